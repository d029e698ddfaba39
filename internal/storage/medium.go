package storage

import (
	"errors"
	"fmt"
	"sync"
)

// Medium is a small byte-addressable non-volatile region, modelled on a
// microcontroller EEPROM: writes are staged and only become durable on
// Commit.
type Medium interface {
	// Begin prepares at least capacity bytes. Called once.
	Begin(capacity int) error
	Read(addr int) (byte, error)
	Write(addr int, v byte) error
	Commit() error
	Close() error
}

// AddressError is returned for an address outside the reserved capacity.
type AddressError struct {
	Addr     int
	Capacity int
}

func (e AddressError) Error() string {
	return fmt.Sprintf("address %d outside capacity %d", e.Addr, e.Capacity)
}

// MemoryMedium is a volatile Medium used by tests and bench runs.
// Committed bytes survive a Close/Begin cycle on the same value, which
// lets tests model a reboot. Fail* fields inject faults. Commits counts
// only commits that had changed bytes to flush.
type MemoryMedium struct {
	mu        sync.Mutex
	staged    []byte
	committed []byte
	dirty     bool

	FailBegin  bool
	FailWrite  bool
	FailCommit bool

	Reads   int
	Writes  int
	Commits int
}

// NewMemoryMedium returns a medium whose durable image starts as image.
func NewMemoryMedium(image ...byte) *MemoryMedium {
	return &MemoryMedium{committed: append([]byte(nil), image...)}
}

var errInjected = errors.New("injected fault")

func (m *MemoryMedium) Begin(capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailBegin {
		return fmt.Errorf("begin: %w", errInjected)
	}
	if capacity <= 0 {
		return fmt.Errorf("begin: capacity must be > 0, got %d", capacity)
	}
	if len(m.committed) < capacity {
		m.committed = append(m.committed, make([]byte, capacity-len(m.committed))...)
	}
	m.staged = append([]byte(nil), m.committed...)
	m.dirty = false
	return nil
}

func (m *MemoryMedium) Read(addr int) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	if addr < 0 || addr >= len(m.staged) {
		return 0, AddressError{Addr: addr, Capacity: len(m.staged)}
	}
	return m.staged[addr], nil
}

func (m *MemoryMedium) Write(addr int, v byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrite {
		return fmt.Errorf("write: %w", errInjected)
	}
	if addr < 0 || addr >= len(m.staged) {
		return AddressError{Addr: addr, Capacity: len(m.staged)}
	}
	if m.staged[addr] != v {
		m.staged[addr] = v
		m.dirty = true
	}
	return nil
}

func (m *MemoryMedium) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	m.Commits++
	if m.FailCommit {
		return fmt.Errorf("commit: %w", errInjected)
	}
	m.committed = append(m.committed[:0], m.staged...)
	m.dirty = false
	return nil
}

// Durable returns the committed byte at addr, ignoring staged writes.
func (m *MemoryMedium) Durable(addr int) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < 0 || addr >= len(m.committed) {
		return 0
	}
	return m.committed[addr]
}

// Touched reports the total number of reads, writes and commits.
func (m *MemoryMedium) Touched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Reads + m.Writes + m.Commits
}

func (m *MemoryMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = nil
	return nil
}
