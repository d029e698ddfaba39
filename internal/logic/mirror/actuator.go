// Package mirror holds the mirror position state machine: it turns an
// open/close intent into H-bridge steps and writes every step through
// to the position store.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/MirrorGo/internal/debug"
	"github.com/cjeanneret/MirrorGo/internal/hw/hbridge"
)

// DefaultMaxPosition is the fully-open extreme.
const DefaultMaxPosition = 255

// ErrWriteFault is returned when a step could not be persisted. The
// actuator refuses to move until RetryPersist succeeds.
var ErrWriteFault = errors.New("position write fault")

// Direction is an open or close intent.
type Direction int

const (
	Close Direction = iota
	Open
)

func (d Direction) String() string {
	if d == Open {
		return "open"
	}
	return "close"
}

func (d Direction) bridge() hbridge.Direction {
	if d == Open {
		return hbridge.Forward
	}
	return hbridge.Reverse
}

// StepResult tells the caller whether another Step is needed.
type StepResult int

const (
	StillMoving StepResult = iota
	Reached
)

// Motor is the H-bridge as seen by the actuator.
type Motor interface {
	Drive(dir hbridge.Direction) error
	Stop() error
}

// PositionStore persists the position byte. Save must commit durably.
type PositionStore interface {
	Load() (byte, error)
	Save(v byte) error
}

// Config holds actuator tuning.
type Config struct {
	MaxPosition int           // fully open, 1..255
	StepDelay   time.Duration // pacing between steps
}

// Actuator owns the mirror position. All methods except Snapshot must be
// called from a single control goroutine.
type Actuator struct {
	motor Motor
	store PositionStore // nil: volatile only
	cfg   Config

	position   int
	moving     bool
	recovering bool
	writeFault bool
	steps      uint64

	mu   sync.RWMutex
	snap Snapshot
}

// New returns an actuator at the closed position. Pass a nil store to
// run on volatile position tracking only.
func New(m Motor, store PositionStore, cfg Config) *Actuator {
	if cfg.MaxPosition <= 0 || cfg.MaxPosition > DefaultMaxPosition {
		cfg.MaxPosition = DefaultMaxPosition
	}
	a := &Actuator{
		motor: m,
		store: store,
		cfg:   cfg,
	}
	a.publish()
	return a
}

// Position returns the current position.
func (a *Actuator) Position() int {
	return a.position
}

// Max returns the fully-open position.
func (a *Actuator) Max() int {
	return a.cfg.MaxPosition
}

// Persistent reports whether positions are written to a store.
func (a *Actuator) Persistent() bool {
	return a.store != nil
}

// WriteFault reports whether the last persist failed.
func (a *Actuator) WriteFault() bool {
	return a.writeFault
}

// Restore sets the position from a persisted value, clamping anything
// beyond the configured range.
func (a *Actuator) Restore(v byte) int {
	p := int(v)
	if p > a.cfg.MaxPosition {
		debug.Info("Persisted position %d above max %d, clamping", p, a.cfg.MaxPosition)
		p = a.cfg.MaxPosition
	}
	a.position = p
	a.publish()
	return p
}

// Interrupted reports whether the position is strictly between the
// extremes, which at boot means the previous move never finished.
func (a *Actuator) Interrupted() bool {
	return a.position > 0 && a.position < a.cfg.MaxPosition
}

// canMove is the movement condition for dir.
func (a *Actuator) canMove(dir Direction) bool {
	if dir == Open {
		return a.position < a.cfg.MaxPosition
	}
	return a.position > 0
}

// Step advances one unit towards dir: assert the bridge, move the
// counter, persist. It does not sleep and does not stop the motor.
func (a *Actuator) Step(dir Direction) (StepResult, error) {
	if a.writeFault {
		return Reached, ErrWriteFault
	}
	if !a.canMove(dir) {
		return Reached, nil
	}

	debug.Position(dir.String(), a.position)
	if err := a.motor.Drive(dir.bridge()); err != nil {
		return Reached, fmt.Errorf("drive %s: %w", dir, err)
	}

	if dir == Open {
		a.position++
	} else {
		a.position--
	}
	a.steps++

	if err := a.persist(); err != nil {
		return Reached, err
	}
	a.publish()

	if a.canMove(dir) {
		return StillMoving, nil
	}
	return Reached, nil
}

func (a *Actuator) persist() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Save(byte(a.position)); err != nil {
		a.writeFault = true
		a.publish()
		debug.Error(fmt.Errorf("persist position %d: %w", a.position, err))
		return fmt.Errorf("%w: %v", ErrWriteFault, err)
	}
	return nil
}

// Move drives to the dir extreme, one Step per StepDelay, then stops the
// motor and saves once more. A change of button state cannot interrupt
// it; only ctx cancellation (shutdown) stops it early, leaving the last
// persisted step for boot recovery.
func (a *Actuator) Move(ctx context.Context, dir Direction) error {
	if a.writeFault {
		return ErrWriteFault
	}

	a.moving = a.canMove(dir)
	a.publish()
	defer func() {
		a.moving = false
		a.publish()
	}()

	var moveErr error
	for a.canMove(dir) {
		if err := ctx.Err(); err != nil {
			moveErr = err
			break
		}
		res, err := a.Step(dir)
		if err != nil {
			moveErr = err
			break
		}
		if err := sleep(ctx, a.cfg.StepDelay); err != nil {
			moveErr = err
			break
		}
		if res == Reached {
			break
		}
	}

	stopErr := a.motor.Stop()
	if moveErr != nil {
		return moveErr
	}
	if stopErr != nil {
		return fmt.Errorf("stop motor: %w", stopErr)
	}
	return a.persist()
}

// Decide maps one button sample to a move: held opens, released closes.
func (a *Actuator) Decide(pressed bool) Direction {
	if pressed && a.position <= a.cfg.MaxPosition {
		return Open
	}
	return Close
}

// RetryPersist saves the current position and clears a write fault on
// success.
func (a *Actuator) RetryPersist() error {
	if a.store == nil {
		a.writeFault = false
		return nil
	}
	if err := a.store.Save(byte(a.position)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFault, err)
	}
	if a.writeFault {
		debug.Info("Storage writable again at position %d", a.position)
	}
	a.writeFault = false
	a.publish()
	return nil
}

// Recover drives to closed when the restored position shows an
// interrupted move. It returns whether a recovery move was made.
func (a *Actuator) Recover(ctx context.Context) (bool, error) {
	if !a.Interrupted() {
		debug.Recovery(a.position, "none")
		return false, nil
	}
	debug.Recovery(a.position, "close")
	a.recovering = true
	defer func() {
		a.recovering = false
		a.publish()
	}()
	return true, a.Move(ctx, Close)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
