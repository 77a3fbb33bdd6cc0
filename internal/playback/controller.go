package playback

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrSpeakBusy is returned when Speak is called while a previous
// playback is still in flight. The conversation loop is the only
// caller and must never do this, so hitting it signals an
// orchestration bug rather than a runtime condition to absorb.
var ErrSpeakBusy = errors.New("playback: speak already in flight")

// CaptureStopper is the slice of the capture supervisor the
// controller needs to enforce mutual exclusion.
type CaptureStopper interface {
	Stop()
}

// Controller owns at most one active playback session. Before any
// playback starts it stops capture, so the two are never live at the
// same time.
type Controller struct {
	engine  Engine
	capture CaptureStopper

	mu       sync.Mutex
	speaking bool
	cancel   context.CancelFunc
}

// NewController creates a turn controller. capture may be nil when no
// capture side exists (e.g. tests exercising playback alone).
func NewController(engine Engine, capture CaptureStopper) *Controller {
	return &Controller{engine: engine, capture: capture}
}

// Speak stops capture, then plays text. The returned channel closes
// exactly once when speaking is over, on natural end and on playback
// error alike: a failed utterance is not retried.
func (c *Controller) Speak(text string) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.speaking {
		c.mu.Unlock()
		return nil, ErrSpeakBusy
	}
	c.speaking = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	// capture must be fully stopped before audio goes out
	if c.capture != nil {
		c.capture.Stop()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.engine.Speak(ctx, text); err != nil && ctx.Err() == nil {
			log.Printf("playback: %v", err)
		}
		c.mu.Lock()
		c.speaking = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()
	return done, nil
}

// Cancel stops any in-flight playback immediately. Idempotent and
// safe when nothing is playing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speaking reports whether a playback session is currently active.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}
