package wal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCheckpointInterval is how often checkpoints are created
	DefaultCheckpointInterval = 10 * time.Minute
)

// Checkpointer calls a flush function periodically in the background.
// The flush function is expected to write a snapshot through WAL.Snapshot.
type Checkpointer struct {
	interval time.Duration
	flushFn  func() error
	log      zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCheckpointer creates a checkpointer. A non-positive interval disables
// the background loop; Checkpoint can still be called directly.
func NewCheckpointer(interval time.Duration, flushFn func() error, log zerolog.Logger) *Checkpointer {
	return &Checkpointer{
		interval: interval,
		flushFn:  flushFn,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the background checkpointing process
func (c *Checkpointer) Start() {
	if c.interval <= 0 {
		return
	}
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run()
	})
}

// Stop stops the checkpointer and waits for an in-progress checkpoint.
// Start after Stop does nothing.
func (c *Checkpointer) Stop() {
	c.stopOnce.Do(func() {
		// Waits for a concurrent Start and blocks later ones
		c.startOnce.Do(func() {})
		close(c.stopCh)
		if c.started.Load() {
			<-c.doneCh
		}
	})
}

// run is the main checkpointing loop
func (c *Checkpointer) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Checkpoint(); err != nil {
				c.log.Error().Err(err).Msg("checkpoint failed")
			}

		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint performs a checkpoint now
func (c *Checkpointer) Checkpoint() error {
	start := time.Now()
	if err := c.flushFn(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	c.log.Debug().
		Dur("duration_ms", time.Since(start)).
		Msg("checkpoint written")
	return nil
}
