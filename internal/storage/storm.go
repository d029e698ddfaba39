package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver"
	"github.com/asdine/storm/v3"
	bolt "go.etcd.io/bbolt"

	"github.com/cjeanneret/MirrorGo/internal/debug"
)

const (
	// LayoutVersion is written next to the image on first use.
	LayoutVersion = "1.0.0"
	// layoutConstraint accepts any image written by a compatible layout.
	layoutConstraint = "~1.0"

	bucketMeta   = "meta"
	bucketEEPROM = "eeprom"
	keyLayout    = "layout"
	keyImage     = "image"

	openTimeout = 2 * time.Second
)

// ErrLayout is returned by Begin when the file holds an incompatible image.
var ErrLayout = errors.New("incompatible storage layout")

// StormMedium emulates an EEPROM on a bbolt file through storm.
// The whole image is one value; Commit writes it in a single bolt
// transaction, which is fsynced before returning. A Commit with no
// changed byte since the last one is a no-op.
type StormMedium struct {
	path  string
	db    *storm.DB
	image []byte
	dirty bool
}

func NewStormMedium(path string) *StormMedium {
	return &StormMedium{path: path}
}

func (s *StormMedium) Begin(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("capacity must be > 0, got %d", capacity)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	// A second instance holding the file lock must not hang boot.
	db, err := storm.Open(s.path, storm.BoltOptions(0o600, &bolt.Options{Timeout: openTimeout}))
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	if err := s.checkLayout(db); err != nil {
		db.Close()
		return err
	}

	var image []byte
	err = db.Get(bucketEEPROM, keyImage, &image)
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		db.Close()
		return fmt.Errorf("read image: %w", err)
	}
	if len(image) < capacity {
		debug.Verbose("Storage: growing image from %d to %d bytes", len(image), capacity)
		image = append(image, make([]byte, capacity-len(image))...)
	}

	s.db = db
	s.image = image
	s.dirty = false
	return nil
}

func (s *StormMedium) checkLayout(db *storm.DB) error {
	var layout string
	err := db.Get(bucketMeta, keyLayout, &layout)
	if errors.Is(err, storm.ErrNotFound) {
		debug.Verbose("Storage: fresh file, writing layout %s", LayoutVersion)
		return db.Set(bucketMeta, keyLayout, LayoutVersion)
	}
	if err != nil {
		return fmt.Errorf("read layout: %w", err)
	}

	v, err := semver.NewVersion(layout)
	if err != nil {
		return fmt.Errorf("%w: %q is not a version", ErrLayout, layout)
	}
	c, err := semver.NewConstraint(layoutConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: found %s, require %s", ErrLayout, layout, layoutConstraint)
	}
	return nil
}

func (s *StormMedium) Read(addr int) (byte, error) {
	if addr < 0 || addr >= len(s.image) {
		return 0, AddressError{Addr: addr, Capacity: len(s.image)}
	}
	return s.image[addr], nil
}

func (s *StormMedium) Write(addr int, v byte) error {
	if addr < 0 || addr >= len(s.image) {
		return AddressError{Addr: addr, Capacity: len(s.image)}
	}
	if s.image[addr] != v {
		s.image[addr] = v
		s.dirty = true
	}
	return nil
}

func (s *StormMedium) Commit() error {
	if s.db == nil {
		return errors.New("commit before begin")
	}
	if !s.dirty {
		return nil
	}
	if err := s.db.Set(bucketEEPROM, keyImage, s.image); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *StormMedium) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
