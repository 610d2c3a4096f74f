package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldown(10 * time.Second)
	c.now = func() time.Time { return now }

	assert.False(t, c.Active("a"))
	assert.True(t, c.Active("a"))
	assert.False(t, c.Active("b"))

	now = now.Add(10 * time.Second)
	assert.False(t, c.Active("a"))
	assert.Len(t, c.seen, 1)
}
