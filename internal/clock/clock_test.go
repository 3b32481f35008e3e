package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickAdvancesByMinutesTimesSpeed(t *testing.T) {
	c := New(10)
	c.Tick(3)
	assert.Equal(t, 30, c.TotalMinutes())

	require.True(t, c.SetSpeed(4))
	c.Tick(2)
	assert.Equal(t, 30+2*10*4, c.TotalMinutes())
}

func TestTickNoopWhenPausedOrNonPositive(t *testing.T) {
	c := New(10)
	c.Tick(0)
	c.Tick(-5)
	assert.Equal(t, 0, c.TotalMinutes())

	c.Pause()
	c.Pause() // idempotent
	c.Tick(5)
	assert.Equal(t, 0, c.TotalMinutes())

	c.Resume()
	c.Resume()
	c.Tick(1)
	assert.Equal(t, 10, c.TotalMinutes())
}

func TestGameTimeProjection(t *testing.T) {
	c := New(1)
	c.SetMinutes(2*1440 + 13*60 + 42)

	gt := c.GameTime()
	assert.Equal(t, 2, gt.Day)
	assert.Equal(t, 13, gt.Hour)
	assert.Equal(t, 42, gt.Minute)
	assert.Equal(t, c.TotalMinutes(), gt.TotalMinutes)

	// Pure: repeated calls see identical state.
	assert.Equal(t, gt, c.GameTime())
}

func TestDayListenersCatchUpAcrossMultiDayJump(t *testing.T) {
	c := New(1440) // one day per tick

	var days []int
	c.OnDay(func(day int) { days = append(days, day) })

	require.True(t, c.SetSpeed(10))
	c.Tick(1) // jumps 10 days at once

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, days)
}

func TestSetSpeedRejectsInvalid(t *testing.T) {
	c := New(1)
	assert.False(t, c.SetSpeed(3))
	assert.Equal(t, 1, c.Speed())
	assert.True(t, c.SetSpeed(2))
	assert.Equal(t, 2, c.Speed())
}
