package wal

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCheckpointCallsFlush(t *testing.T) {
	var flushCalled int32
	c := NewCheckpointer(0, func() error {
		atomic.AddInt32(&flushCalled, 1)
		return nil
	}, zerolog.Nop())

	if err := c.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&flushCalled) != 1 {
		t.Error("flush function should have been called once")
	}
}

func TestCheckpointInterval(t *testing.T) {
	var flushCount int32
	c := NewCheckpointer(20*time.Millisecond, func() error {
		atomic.AddInt32(&flushCount, 1)
		return nil
	}, zerolog.Nop())

	c.Start()
	time.Sleep(150 * time.Millisecond)
	c.Stop()

	count := atomic.LoadInt32(&flushCount)
	if count < 2 {
		t.Errorf("expected at least 2 periodic checkpoints, got %d", count)
	}

	// No flushes after Stop
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&flushCount) != count {
		t.Error("checkpointer kept running after Stop")
	}
}

func TestCheckpointDisabled(t *testing.T) {
	var flushCount int32
	c := NewCheckpointer(0, func() error {
		atomic.AddInt32(&flushCount, 1)
		return nil
	}, zerolog.Nop())

	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop()

	if atomic.LoadInt32(&flushCount) != 0 {
		t.Error("disabled checkpointer should not flush")
	}
}

func TestCheckpointFlushError(t *testing.T) {
	flushErr := errors.New("disk full")
	c := NewCheckpointer(0, func() error { return flushErr }, zerolog.Nop())

	err := c.Checkpoint()
	if !errors.Is(err, flushErr) {
		t.Errorf("expected wrapped flush error, got %v", err)
	}
}

func TestCheckpointStartStopConcurrent(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewCheckpointer(time.Millisecond, func() error { return nil }, zerolog.Nop())

		done := make(chan struct{})
		go func() {
			c.Start()
			close(done)
		}()
		c.Stop()
		<-done
		c.Stop()
	}
}

func TestCheckpointStartAfterStop(t *testing.T) {
	var flushCount int32
	c := NewCheckpointer(5*time.Millisecond, func() error {
		atomic.AddInt32(&flushCount, 1)
		return nil
	}, zerolog.Nop())

	c.Stop()
	c.Start()
	time.Sleep(30 * time.Millisecond)

	if atomic.LoadInt32(&flushCount) != 0 {
		t.Error("Start after Stop should not run the loop")
	}
}
