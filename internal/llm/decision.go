package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Actions the backend may choose from. Anything outside this vocabulary is a
// schema violation and the caller falls back to rules.
const (
	ActionMoveTo        = "MOVE_TO"
	ActionStartActivity = "START_ACTIVITY"
	ActionTalkTo        = "TALK_TO"
	ActionWait          = "WAIT"
	ActionGoHome        = "GO_HOME"
	ActionEat           = "EAT"
	ActionSleep         = "SLEEP"
	ActionWork          = "WORK"
)

// Decision is a parsed, schema-validated generative decision.
type Decision struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

const decisionSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {
			"type": "string",
			"enum": ["MOVE_TO", "START_ACTIVITY", "TALK_TO", "WAIT", "GO_HOME", "EAT", "SLEEP", "WORK"]
		},
		"target": {"type": "string"},
		"reason": {"type": "string"}
	}
}`

var decisionSchema = jsonschema.MustCompileString("decision.json", decisionSchemaJSON)

// ParseDecision extracts and validates a decision object from backend output.
// Schema mismatches are semantic errors: surfaced to the caller, never
// retried.
func ParseDecision(content string) (Decision, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return Decision{}, fmt.Errorf("no JSON object in response")
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Decision{}, fmt.Errorf("malformed decision payload: %w", err)
	}
	if err := decisionSchema.Validate(v); err != nil {
		return Decision{}, fmt.Errorf("decision schema: %w", err)
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}

// extractJSONObject tolerates prose or code fences around the object.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
