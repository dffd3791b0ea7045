package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func grayFrame(v float64, at time.Time) Frame {
	return NewFrame(gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC1), at)
}

func TestHub_SnapshotEmpty(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, ok := h.Snapshot()
	assert.False(t, ok)
	assert.Zero(t, h.Seq())
}

func TestHub_LatestWins(t *testing.T) {
	h := NewHub()
	defer h.Close()

	t0 := time.Now()
	h.Publish(grayFrame(10, t0))
	h.Publish(grayFrame(20, t0.Add(time.Millisecond)))

	snap, ok := h.Snapshot()
	require.True(t, ok)
	defer snap.Close()

	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, uint8(20), snap.Mat.GetUCharAt(0, 0))
	assert.True(t, snap.Time.Equal(t0.Add(time.Millisecond)))
}

func TestHub_SnapshotIsIndependentClone(t *testing.T) {
	h := NewHub()
	defer h.Close()

	h.Publish(grayFrame(5, time.Now()))

	a, ok := h.Snapshot()
	require.True(t, ok)
	defer a.Close()
	a.Mat.SetUCharAt(0, 0, 99)

	b, ok := h.Snapshot()
	require.True(t, ok)
	defer b.Close()
	assert.Equal(t, uint8(5), b.Mat.GetUCharAt(0, 0))
}

func TestHub_SnapshotAfter(t *testing.T) {
	h := NewHub()
	defer h.Close()

	h.Publish(grayFrame(1, time.Now()))

	_, ok := h.SnapshotAfter(1)
	assert.False(t, ok, "already seen frame must not be returned")

	f, ok := h.SnapshotAfter(0)
	require.True(t, ok)
	f.Close()
}

func TestHub_WaitWakesOnPublish(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Frame, 1)
	go func() {
		f, err := h.Wait(ctx, 0)
		if err == nil {
			got <- f
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	h.Publish(grayFrame(7, time.Now()))

	f, ok := <-got
	require.True(t, ok)
	defer f.Close()
	assert.Equal(t, uint64(1), f.Seq)
}

func TestHub_WaitHonorsContext(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_CloseWakesWaiters(t *testing.T) {
	h := NewHub()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Wait(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrHubClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken by Close")
	}

	// Publishing after close is a no-op
	h.Publish(grayFrame(1, time.Now()))
	_, ok := h.Snapshot()
	assert.False(t, ok)
}

func TestHub_ConcurrentPublishSnapshot(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Publish(grayFrame(float64(i%255), time.Now()))
		}
	}()
	go func() {
		defer wg.Done()
		var last uint64
		for i := 0; i < 200; i++ {
			if f, ok := h.SnapshotAfter(last); ok {
				if f.Seq <= last {
					t.Errorf("sequence went backwards: %d after %d", f.Seq, last)
				}
				last = f.Seq
				f.Close()
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, uint64(200), h.Seq())
}
