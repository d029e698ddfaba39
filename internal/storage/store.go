package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInitFailed wraps the cause of a failed Initialize.
	ErrInitFailed = errors.New("storage init failed")
	// ErrStorageFailed is returned by Load and Save once init has failed.
	ErrStorageFailed = errors.New("storage unavailable")
	// ErrNotInitialized is returned by Load and Save before Initialize.
	ErrNotInitialized = errors.New("storage not initialized")
	ErrClosed         = errors.New("storage closed")
)

type state int

const (
	stateNew state = iota
	stateReady
	stateFailed
	stateClosed
)

// Store holds the mirror position in a single byte of a Medium.
// It does no validation; the value is whatever was last committed.
type Store struct {
	medium Medium
	addr   int
	state  state
}

// NewStore returns a Store over m keeping its byte at addr.
func NewStore(m Medium, addr int) *Store {
	return &Store{medium: m, addr: addr}
}

// Initialize reserves capacity bytes on the medium. It must be called
// exactly once. On failure the store is latched failed for its lifetime
// and the medium is never touched again.
func (s *Store) Initialize(capacity int) error {
	if s.state != stateNew {
		return errors.New("storage already initialized")
	}
	if s.addr < 0 || s.addr >= capacity {
		s.state = stateFailed
		return fmt.Errorf("%w: %v", ErrInitFailed, AddressError{Addr: s.addr, Capacity: capacity})
	}
	if err := s.medium.Begin(capacity); err != nil {
		s.state = stateFailed
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	s.state = stateReady
	return nil
}

// Failed reports whether Initialize failed.
func (s *Store) Failed() bool {
	return s.state == stateFailed
}

func (s *Store) usable() error {
	switch s.state {
	case stateReady:
		return nil
	case stateFailed:
		return ErrStorageFailed
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}
}

// Load reads the persisted byte.
func (s *Store) Load() (byte, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.medium.Read(s.addr)
}

// Save writes v and commits it before returning.
func (s *Store) Save(v byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.medium.Write(s.addr, v); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	if err := s.medium.Commit(); err != nil {
		return fmt.Errorf("commit position: %w", err)
	}
	return nil
}

// Close releases the medium.
func (s *Store) Close() error {
	if s.state != stateReady {
		return nil
	}
	s.state = stateClosed
	return s.medium.Close()
}
