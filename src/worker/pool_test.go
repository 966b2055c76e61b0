package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTask(t *testing.T) {
	p := New(1)
	defer p.Close()

	done := make(chan error, 1)
	ok := p.Submit(context.Background(), "echo", func(context.Context) error {
		return errors.New("boom")
	}, func(err error) { done <- err })
	require.True(t, ok)

	select {
	case err := <-done:
		assert.EqualError(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSubmitBackPressure(t *testing.T) {
	p := New(1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.True(t, p.Submit(context.Background(), "blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}, nil))
	<-started
	// One slot in the queue, then drops.
	assert.True(t, p.Submit(context.Background(), "queued", func(context.Context) error { return nil }, nil))
	assert.False(t, p.Submit(context.Background(), "dropped", func(context.Context) error { return nil }, nil))

	close(release)
	p.Close()
	p.Close()
}

func TestPanicIsReported(t *testing.T) {
	p := New(1)
	defer p.Close()

	done := make(chan error, 1)
	p.Submit(context.Background(), "panics", func(context.Context) error {
		panic("kaboom")
	}, func(err error) { done <- err })

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCancelledContextSkipsTask(t *testing.T) {
	p := New(1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	done := make(chan error, 1)
	p.Submit(ctx, "skipped", func(context.Context) error {
		ran = true
		return nil
	}, func(err error) { done <- err })

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, ran)
}
