package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSlidingWindow(t *testing.T) {
	clk := &manualClock{t: time.Unix(1000, 0)}
	sw := NewSlidingWindow(2, 10*time.Second)
	sw.now = clk.now

	assert.True(t, sw.Allow())
	clk.advance(time.Second)
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())
	assert.Equal(t, 0, sw.Remaining())
	assert.Equal(t, time.Unix(1010, 0), sw.ResetAt())

	// 第一条滑出窗口后恢复一个名额
	clk.advance(9 * time.Second)
	assert.Equal(t, 1, sw.Remaining())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())

	clk.advance(20 * time.Second)
	assert.Equal(t, 2, sw.Remaining())
	assert.Equal(t, clk.t, sw.ResetAt())
}

func TestKeyed(t *testing.T) {
	clk := &manualClock{t: time.Unix(1000, 0)}
	k := NewKeyed(1, time.Minute)
	k.now = clk.now

	assert.True(t, k.Allow("Primary"))
	assert.False(t, k.Allow("Primary"))
	assert.True(t, k.Allow("Secondary"))
	assert.Equal(t, time.Unix(1060, 0), k.ResetAt("Primary"))

	clk.advance(time.Minute)
	assert.True(t, k.Allow("Primary"))
}

func TestKeyed_Disabled(t *testing.T) {
	k := NewKeyed(0, time.Minute)
	assert.Nil(t, k)
	for i := 0; i < 100; i++ {
		assert.True(t, k.Allow("Primary"))
	}
}
