package shell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpenRateLimiter(t *testing.T) {
	rl := NewOpenRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per token")

	now = now.Add(30 * time.Second)
	assert.False(t, rl.Allow("alice"))

	now = now.Add(31 * time.Second)
	assert.True(t, rl.Allow("alice"), "window slid past the first attempts")
}
