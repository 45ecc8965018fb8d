package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_ReturnsUTC(t *testing.T) {
	now := New().Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestFixed_SetAndAdvance(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c := NewFixed(start)

	assert.Equal(t, start, c.Now())

	got := c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), got)
	assert.Equal(t, got, c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
