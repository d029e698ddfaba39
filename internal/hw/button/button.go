package button

import (
	"github.com/cjeanneret/MirrorGo/internal/hw/gpio"
)

// Button is a level-triggered push button on a single input line.
// HIGH means pressed. There is no debounce and no edge detection:
// callers sample it once per control loop iteration.
type Button struct {
	gpio gpio.Driver
	pin  int
}

func New(g gpio.Driver, pin int) (*Button, error) {
	if err := g.SetupPin(pin, gpio.Input); err != nil {
		return nil, err
	}
	return &Button{gpio: g, pin: pin}, nil
}

// Pressed samples the input once.
func (b *Button) Pressed() (bool, error) {
	level, err := b.gpio.ReadPin(b.pin)
	if err != nil {
		return false, err
	}
	return level == gpio.High, nil
}
