package hbridge

import (
	"fmt"

	"github.com/cjeanneret/MirrorGo/internal/debug"
	"github.com/cjeanneret/MirrorGo/internal/hw/gpio"
)

// Direction selects which way the motor turns.
type Direction int

const (
	Forward Direction = iota // opens the mirrors
	Reverse                  // closes the mirrors
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "reverse"
}

// Config holds the two control lines of the bridge (BCM numbering).
type Config struct {
	ForwardPin int // HIGH with ReversePin LOW drives Forward
	ReversePin int // HIGH with ForwardPin LOW drives Reverse
}

// Bridge drives a DC motor through an H-bridge with two complementary
// digital lines. Exactly one line HIGH selects a direction; both LOW
// lets the motor coast. No PWM.
type Bridge struct {
	gpio gpio.Driver
	cfg  Config
}

// New configures both lines as outputs and leaves the motor stopped.
func New(g gpio.Driver, cfg Config) (*Bridge, error) {
	if cfg.ForwardPin == cfg.ReversePin {
		return nil, fmt.Errorf("hbridge: forward and reverse share pin %d", cfg.ForwardPin)
	}
	if err := g.SetupPin(cfg.ForwardPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup forward pin: %w", err)
	}
	if err := g.SetupPin(cfg.ReversePin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup reverse pin: %w", err)
	}
	b := &Bridge{gpio: g, cfg: cfg}
	if err := b.Stop(); err != nil {
		return nil, err
	}
	return b, nil
}

// Drive asserts the outputs for dir.
// The line being released is written first so both lines are never HIGH together.
func (b *Bridge) Drive(dir Direction) error {
	on, off := b.cfg.ForwardPin, b.cfg.ReversePin
	if dir == Reverse {
		on, off = off, on
	}
	if err := b.gpio.WritePin(off, gpio.Low); err != nil {
		return err
	}
	return b.gpio.WritePin(on, gpio.High)
}

// Stop deasserts both outputs (coast).
func (b *Bridge) Stop() error {
	err1 := b.gpio.WritePin(b.cfg.ForwardPin, gpio.Low)
	err2 := b.gpio.WritePin(b.cfg.ReversePin, gpio.Low)
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	debug.Trace("H-bridge stopped")
	return nil
}
