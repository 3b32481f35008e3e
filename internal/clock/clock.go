// Package clock tracks virtual time for the simulation. Time advances in
// whole sim-minutes per tick, scaled by a speed multiplier, and never by
// wall-clock observation.
package clock

import "log/slog"

const minutesPerDay = 24 * 60

// ValidSpeeds are the accepted speed multipliers.
var ValidSpeeds = []int{1, 2, 4, 10}

// GameTime is a pure projection of the minute counter.
type GameTime struct {
	Day          int `json:"day"`
	Hour         int `json:"hour"`
	Minute       int `json:"minute"`
	TotalMinutes int `json:"total_minutes"`
}

// Clock holds the virtual minute counter and day-boundary listeners.
type Clock struct {
	minutes        int
	minutesPerTick int
	speed          int
	paused         bool
	dayListeners   []func(day int)
}

// New creates a clock advancing by minutesPerTick sim-minutes each tick at
// speed 1.
func New(minutesPerTick int) *Clock {
	if minutesPerTick <= 0 {
		minutesPerTick = 1
	}
	return &Clock{minutesPerTick: minutesPerTick, speed: 1}
}

// Tick advances virtual time by n ticks. No-op while paused or for n <= 0.
// Day listeners fire once per day crossed, in ascending day order, so a
// multi-day jump still notifies every intermediate day.
func (c *Clock) Tick(n int) {
	if c.paused || n <= 0 {
		return
	}

	before := c.minutes / minutesPerDay
	c.minutes += n * c.minutesPerTick * c.speed
	after := c.minutes / minutesPerDay

	for day := before + 1; day <= after; day++ {
		for _, fn := range c.dayListeners {
			fn(day)
		}
	}
}

// GameTime derives the current day/hour/minute from the counter. It never
// mutates the clock.
func (c *Clock) GameTime() GameTime {
	return GameTime{
		Day:          c.minutes / minutesPerDay,
		Hour:         (c.minutes % minutesPerDay) / 60,
		Minute:       c.minutes % 60,
		TotalMinutes: c.minutes,
	}
}

// TotalMinutes returns the raw virtual minute counter.
func (c *Clock) TotalMinutes() int {
	return c.minutes
}

// SetMinutes restores the counter (used when resuming a saved world).
func (c *Clock) SetMinutes(m int) {
	if m >= 0 {
		c.minutes = m
	}
}

// SetSpeed changes the multiplier. Invalid values are rejected.
func (c *Clock) SetSpeed(speed int) bool {
	for _, s := range ValidSpeeds {
		if speed == s {
			c.speed = speed
			return true
		}
	}
	slog.Debug("rejected clock speed", "speed", speed)
	return false
}

// Speed returns the current multiplier.
func (c *Clock) Speed() int {
	return c.speed
}

// Pause stops time. Idempotent.
func (c *Clock) Pause() {
	c.paused = true
}

// Resume restarts time. Idempotent.
func (c *Clock) Resume() {
	c.paused = false
}

// Paused reports whether the clock is stopped.
func (c *Clock) Paused() bool {
	return c.paused
}

// OnDay registers a listener invoked at each day boundary with the new day
// number.
func (c *Clock) OnDay(fn func(day int)) {
	c.dayListeners = append(c.dayListeners, fn)
}
