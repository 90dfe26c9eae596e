package debounce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstWithinWindowFiresOnce(t *testing.T) {
	var calls int32
	var lastURL string
	var mu sync.Mutex
	done := make(chan struct{})

	d := New(50*time.Millisecond, func(ctx context.Context, url string) error {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		lastURL = url
		mu.Unlock()
		close(done)
		return nil
	})

	ctx := context.Background()
	d.Trigger(ctx, "main.js?v=1")
	time.Sleep(5 * time.Millisecond)
	d.Trigger(ctx, "main.js?v=2")
	time.Sleep(5 * time.Millisecond)
	d.Trigger(ctx, "main.js?v=3")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced call never fired")
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	mu.Lock()
	assert.Equal(t, "main.js?v=3", lastURL)
	mu.Unlock()
}

func TestTriggerDuringRunQueuesExactlyOneFollowUp(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	secondDone := make(chan struct{})

	var d *Debounced
	d = New(10*time.Millisecond, func(ctx context.Context, url string) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-release
		} else {
			close(secondDone)
		}
		return nil
	})

	ctx := context.Background()
	d.Trigger(ctx, "a")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, time.Millisecond)

	// These land while the first call is still blocked inside fn; only the
	// last one should survive as the queued follow-up.
	d.Trigger(ctx, "b")
	d.Trigger(ctx, "c")
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("queued follow-up never fired")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "exactly one follow-up, not one per queued trigger")
}
