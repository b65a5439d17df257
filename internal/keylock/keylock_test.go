package keylock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New()
	var inside, maxInside atomic.Int32
	counter := 0

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			unlock := l.Lock("cart-1")
			defer unlock()

			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			counter++
			inside.Add(-1)
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, 50, counter)
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Len())
}

func TestLocker_DifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock("k")
	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())

	unlock = l.Lock("k")
	assert.Equal(t, 1, l.Len())
	unlock()
}
