// Package typing keeps platform typing indicators alive while a reply is
// being produced. Platforms expire the indicator after a few seconds, so
// the controller re-sends it on an interval until stopped, with a TTL
// safety net against stuck indicators.
package typing

import (
	"sync"
	"time"
)

// Options configures a typing Controller.
type Options struct {
	MaxDuration       time.Duration // force-stop after this, default 120s
	KeepaliveInterval time.Duration // re-send cadence, default 5s
	StartFn           func() error  // sends one indicator ping
}

// Controller drives one typing indicator lifecycle. Safe to Stop more
// than once.
type Controller struct {
	opts Options
	stop chan struct{}
	once sync.Once
}

func New(opts Options) *Controller {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 5 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 120 * time.Second
	}
	return &Controller{opts: opts, stop: make(chan struct{})}
}

// Start sends the first ping and begins the keepalive loop.
func (c *Controller) Start() {
	go func() {
		_ = c.opts.StartFn()

		deadline := time.NewTimer(c.opts.MaxDuration)
		defer deadline.Stop()
		ticker := time.NewTicker(c.opts.KeepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-deadline.C:
				return
			case <-ticker.C:
				_ = c.opts.StartFn()
			}
		}
	}()
}

// Stop ends the keepalive loop. The indicator clears on its own once pings
// stop arriving.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stop) })
}
