package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerFiresOnceAfterBurst(t *testing.T) {
	var fires int32
	d := New(30*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fires))
}

func TestDebouncerCancel(t *testing.T) {
	var fires int32
	d := New(20*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })
	d.Trigger()
	d.Cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))
	assert.False(t, d.Pending())
}

func TestDebouncerRetriggerAfterFire(t *testing.T) {
	var fires int32
	d := New(15*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })

	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	d.Trigger()
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fires))
}
