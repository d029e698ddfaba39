package storage

import (
	"errors"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	bolt "go.etcd.io/bbolt"
)

func TestStore(t *testing.T) {
	Convey("Given a store over a healthy medium", t, func() {
		image := make([]byte, 64)
		image[1] = 130
		m := NewMemoryMedium(image...)
		s := NewStore(m, 1)

		Convey("Load before Initialize is refused", func() {
			_, err := s.Load()
			So(errors.Is(err, ErrNotInitialized), ShouldBeTrue)
			So(m.Touched(), ShouldEqual, 0)
		})

		Convey("after Initialize", func() {
			So(s.Initialize(64), ShouldBeNil)
			So(s.Failed(), ShouldBeFalse)

			Convey("Load returns the persisted byte", func() {
				v, err := s.Load()
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 130)
			})

			Convey("Save writes and commits in one call", func() {
				So(s.Save(42), ShouldBeNil)
				So(m.Writes, ShouldEqual, 1)
				So(m.Commits, ShouldEqual, 1)
				So(m.Durable(1), ShouldEqual, 42)

				v, _ := s.Load()
				So(v, ShouldEqual, 42)
			})

			Convey("an unchanged Save writes but does not commit", func() {
				So(s.Save(130), ShouldBeNil)
				So(s.Save(130), ShouldBeNil)
				So(m.Writes, ShouldEqual, 2)
				So(m.Commits, ShouldEqual, 0)

				So(s.Save(131), ShouldBeNil)
				So(m.Commits, ShouldEqual, 1)
				So(m.Durable(1), ShouldEqual, 131)
			})

			Convey("a commit that failed is retried by the next unchanged Save", func() {
				m.FailCommit = true
				So(s.Save(7), ShouldNotBeNil)
				m.FailCommit = false
				So(s.Save(7), ShouldBeNil)
				So(m.Durable(1), ShouldEqual, 7)
			})

			Convey("a second Initialize is rejected", func() {
				So(s.Initialize(64), ShouldNotBeNil)
			})

			Convey("a failing commit surfaces an error and nothing becomes durable", func() {
				m.FailCommit = true
				err := s.Save(7)
				So(err, ShouldNotBeNil)
				So(m.Durable(1), ShouldEqual, 130)
			})

			Convey("a failing write skips the commit", func() {
				m.FailWrite = true
				So(s.Save(7), ShouldNotBeNil)
				So(m.Commits, ShouldEqual, 0)
			})

			Convey("Close stops further access", func() {
				So(s.Close(), ShouldBeNil)
				_, err := s.Load()
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})
	})

	Convey("Given a medium that cannot be prepared", t, func() {
		m := NewMemoryMedium()
		m.FailBegin = true
		s := NewStore(m, 1)

		err := s.Initialize(64)

		Convey("Initialize reports ErrInitFailed and latches", func() {
			So(errors.Is(err, ErrInitFailed), ShouldBeTrue)
			So(s.Failed(), ShouldBeTrue)
		})

		Convey("Load and Save never reach the medium", func() {
			_, lerr := s.Load()
			So(errors.Is(lerr, ErrStorageFailed), ShouldBeTrue)
			So(errors.Is(s.Save(1), ErrStorageFailed), ShouldBeTrue)
			So(m.Touched(), ShouldEqual, 0)
		})

		Convey("there is no retry", func() {
			m.FailBegin = false
			So(s.Initialize(64), ShouldNotBeNil)
			So(s.Failed(), ShouldBeTrue)
		})
	})

	Convey("Given an address beyond the reserved capacity", t, func() {
		s := NewStore(NewMemoryMedium(), 64)

		Convey("Initialize fails with an AddressError cause", func() {
			err := s.Initialize(64)
			So(errors.Is(err, ErrInitFailed), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "address 64 outside capacity 64")
		})
	})
}

func TestMemoryMedium_RebootKeepsOnlyCommitted(t *testing.T) {
	Convey("Given a medium with a staged but uncommitted write", t, func() {
		m := NewMemoryMedium()
		So(m.Begin(8), ShouldBeNil)
		So(m.Write(1, 9), ShouldBeNil)
		So(m.Commit(), ShouldBeNil)
		So(m.Write(1, 10), ShouldBeNil)

		Convey("a reboot exposes the committed value", func() {
			So(m.Close(), ShouldBeNil)
			So(m.Begin(8), ShouldBeNil)
			v, err := m.Read(1)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 9)
		})
	})
}

func TestStormMedium(t *testing.T) {
	Convey("Given a fresh storm file", t, func() {
		path := filepath.Join(t.TempDir(), "state", "mirror.db")

		s := NewStore(NewStormMedium(path), 1)
		So(s.Initialize(64), ShouldBeNil)

		Convey("an unwritten position reads as closed", func() {
			v, err := s.Load()
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 0)
		})

		Convey("a saved position survives reopening the file", func() {
			So(s.Save(200), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			again := NewStore(NewStormMedium(path), 1)
			So(again.Initialize(64), ShouldBeNil)
			defer again.Close()

			v, err := again.Load()
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 200)
		})

		Convey("reading past the capacity is an AddressError", func() {
			m := NewStormMedium(filepath.Join(t.TempDir(), "other.db"))
			So(m.Begin(4), ShouldBeNil)
			defer m.Close()
			_, err := m.Read(4)
			var addrErr AddressError
			So(errors.As(err, &addrErr), ShouldBeTrue)
			So(addrErr.Capacity, ShouldEqual, 4)
		})

		Reset(func() {
			s.Close()
		})
	})

	Convey("Given a storm-backed store holding a position", t, func() {
		m := NewStormMedium(filepath.Join(t.TempDir(), "mirror.db"))
		s := NewStore(m, 1)
		So(s.Initialize(64), ShouldBeNil)
		So(s.Save(0), ShouldBeNil)
		So(s.Save(255), ShouldBeNil)

		lastTx := func() int {
			var id int
			So(m.db.Bolt.View(func(tx *bolt.Tx) error {
				id = tx.ID()
				return nil
			}), ShouldBeNil)
			return id
		}

		Convey("an unchanged Save does not start a write transaction", func() {
			before := lastTx()
			for i := 0; i < 100; i++ {
				So(s.Save(255), ShouldBeNil)
			}
			So(lastTx(), ShouldEqual, before)
		})

		Convey("a changed Save commits exactly once", func() {
			before := lastTx()
			So(s.Save(254), ShouldBeNil)
			So(lastTx(), ShouldEqual, before+1)
		})

		Reset(func() {
			s.Close()
		})
	})

	Convey("Given a file written by an incompatible layout", t, func() {
		path := filepath.Join(t.TempDir(), "mirror.db")
		m := NewStormMedium(path)
		So(m.Begin(8), ShouldBeNil)
		So(m.db.Set(bucketMeta, keyLayout, "2.0.0"), ShouldBeNil)
		So(m.Close(), ShouldBeNil)

		Convey("Begin refuses it", func() {
			err := NewStormMedium(path).Begin(8)
			So(errors.Is(err, ErrLayout), ShouldBeTrue)
		})
	})
}
