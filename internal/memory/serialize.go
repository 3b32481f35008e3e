package memory

import (
	"encoding/json"
	"fmt"
)

// snapshot is the wire form of a store. The id counter rides along so
// restored stores keep issuing unique ids.
type snapshot struct {
	NextID       uint64    `json:"next_id"`
	Observations []*Memory `json:"observations"`
	Reflections  []*Memory `json:"reflections"`
	Plans        []*Memory `json:"plans"`
}

// ToJSON serializes the store losslessly.
func (s *Store) ToJSON() ([]byte, error) {
	snap := snapshot{
		NextID:       s.nextID,
		Observations: s.observations,
		Reflections:  s.reflections,
		Plans:        s.plans,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal memory store: %w", err)
	}
	return data, nil
}

// FromJSON reconstructs a store produced by ToJSON. The config is supplied by
// the caller; capacities are not part of the payload.
func FromJSON(data []byte, cfg Config) (*Store, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal memory store: %w", err)
	}

	s := NewStore(cfg)
	if snap.NextID > 0 {
		s.nextID = snap.NextID
	}
	s.observations = snap.Observations
	s.reflections = snap.Reflections
	s.plans = snap.Plans
	return s, nil
}
