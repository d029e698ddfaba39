package mirror

// Regime is the logical state derived from position and activity.
type Regime string

const (
	RegimeClosed     Regime = "closed"
	RegimeOpen       Regime = "open"
	RegimePartial    Regime = "partial"
	RegimeMoving     Regime = "moving"
	RegimeRecovering Regime = "recovering"
)

// Snapshot is an immutable copy of the actuator state for observers
// outside the control goroutine.
type Snapshot struct {
	Position   int    `json:"position"`
	Max        int    `json:"max"`
	Regime     Regime `json:"regime"`
	Persistent bool   `json:"persistent"`
	WriteFault bool   `json:"write_fault"`
	Steps      uint64 `json:"steps"`
}

// Regime derives the current regime.
func (a *Actuator) Regime() Regime {
	switch {
	case a.recovering:
		return RegimeRecovering
	case a.moving:
		return RegimeMoving
	case a.position == 0:
		return RegimeClosed
	case a.position >= a.cfg.MaxPosition:
		return RegimeOpen
	default:
		return RegimePartial
	}
}

func (a *Actuator) publish() {
	s := Snapshot{
		Position:   a.position,
		Max:        a.cfg.MaxPosition,
		Regime:     a.Regime(),
		Persistent: a.store != nil,
		WriteFault: a.writeFault,
		Steps:      a.steps,
	}
	a.mu.Lock()
	a.snap = s
	a.mu.Unlock()
}

// Snapshot returns the last published state. Safe from any goroutine.
func (a *Actuator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}
