package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/MirrorGo/internal/debug"
	"github.com/cjeanneret/MirrorGo/internal/logic/mirror"
)

// Store is the position store as seen at boot.
type Store interface {
	Initialize(capacity int) error
	mirror.PositionStore
}

// Button is sampled once per loop iteration.
type Button interface {
	Pressed() (bool, error)
}

// Config holds the boot and loop timing.
type Config struct {
	Version   string
	Capacity  int           // bytes reserved on the medium at boot
	BootDelay time.Duration // settle time before touching storage
	IdleDelay time.Duration // gap between loop iterations
	Actuator  mirror.Config
}

// Status is what the controller exposes to observers.
type Status struct {
	Version       string          `json:"version"`
	Session       string          `json:"session"`
	Booted        bool            `json:"booted"`
	StorageFailed bool            `json:"storage_failed"`
	Iterations    uint64          `json:"iterations"`
	Mirror        mirror.Snapshot `json:"mirror"`
}

// Controller runs the boot sequence once and then the button loop.
type Controller struct {
	cfg    Config
	store  Store
	button Button
	motor  mirror.Motor

	session  string
	actuator *mirror.Actuator

	mu            sync.RWMutex
	booted        bool
	storageFailed bool
	iterations    uint64
}

func NewController(store Store, button Button, motor mirror.Motor, cfg Config) *Controller {
	return &Controller{
		cfg:     cfg,
		store:   store,
		button:  button,
		motor:   motor,
		session: uuid.NewString(),
	}
}

// Session identifies this boot in the diagnostic stream.
func (c *Controller) Session() string {
	return c.session
}

// Actuator returns the actuator built by Boot, or nil before Boot.
func (c *Controller) Actuator() *mirror.Actuator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actuator
}

// Boot settles, initializes storage, restores the position and recovers
// an interrupted move. A storage failure is not returned: the controller
// continues on volatile tracking from the closed position.
func (c *Controller) Boot(ctx context.Context) error {
	debug.Boot(c.cfg.Version, c.session)

	debug.Step(1, "Settling")
	if err := sleep(ctx, c.cfg.BootDelay); err != nil {
		return err
	}

	debug.Step(2, "Initializing storage")
	var store mirror.PositionStore
	failed := false
	if err := c.store.Initialize(c.cfg.Capacity); err != nil {
		debug.Storage(false, err.Error())
		failed = true
	} else {
		debug.Storage(true, fmt.Sprintf("%d bytes reserved", c.cfg.Capacity))
		store = c.store
	}

	a := mirror.New(c.motor, store, c.cfg.Actuator)

	c.mu.Lock()
	c.actuator = a
	c.storageFailed = failed
	c.mu.Unlock()

	if failed {
		debug.Recovery(a.Position(), "skipped (storage failure, assuming closed)")
		c.setBooted()
		return nil
	}

	debug.Step(3, "Loading position")
	v, err := c.store.Load()
	if err != nil {
		// Initialize succeeded, so this is a medium read error: treat it
		// like any other interrupted state and close.
		debug.Error(fmt.Errorf("load position: %w", err))
		v = byte(a.Max() / 2)
	}
	debug.Value("Persisted position", v)
	a.Restore(v)

	debug.Step(4, "Recovery")
	if _, err := a.Recover(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		debug.Error(fmt.Errorf("recovery: %w", err))
	}

	c.setBooted()
	return nil
}

func (c *Controller) setBooted() {
	c.mu.Lock()
	c.booted = true
	c.mu.Unlock()
}

// Tick runs one loop iteration: sample the button once and run the
// resulting move to completion. While a write fault is latched it only
// retries the persist.
func (c *Controller) Tick(ctx context.Context) error {
	a := c.Actuator()
	if a == nil {
		return errors.New("tick before boot")
	}

	defer func() {
		c.mu.Lock()
		c.iterations++
		c.mu.Unlock()
	}()

	if a.WriteFault() {
		if err := a.RetryPersist(); err != nil {
			debug.Verbose("Storage still failing: %v", err)
			return nil
		}
	}

	pressed, err := c.button.Pressed()
	if err != nil {
		debug.Error(fmt.Errorf("read button: %w", err))
		pressed = false
	}

	dir := a.Decide(pressed)
	debug.Verbose("Button pressed=%v position=%d -> %s", pressed, a.Position(), dir)
	if err := a.Move(ctx, dir); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		debug.Error(fmt.Errorf("move %s: %w", dir, err))
	}
	return nil
}

// Run loops until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	debug.Info("Control loop started")
	for {
		if err := c.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := sleep(ctx, c.cfg.IdleDelay); err != nil {
			return nil
		}
	}
}

// Status returns a copy of the controller state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{
		Version:       c.cfg.Version,
		Session:       c.session,
		Booted:        c.booted,
		StorageFailed: c.storageFailed,
		Iterations:    c.iterations,
	}
	if c.actuator != nil {
		s.Mirror = c.actuator.Snapshot()
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
