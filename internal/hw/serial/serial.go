// Package serial carries the diagnostic stream over a UART, the way a
// microcontroller prints to its serial monitor.
package serial

import (
	"bytes"
	"fmt"
	"io"
	"log"

	"github.com/tarm/serial"
)

// Config describes the diagnostic serial line.
type Config struct {
	Device string // e.g. /dev/ttyAMA0
	Baud   int
}

// Port is an open diagnostic line. Writes are line-oriented and each
// newline goes out as CRLF. A write error is logged once and then
// swallowed, so a dropped line never stalls the other diagnostic sinks.
type Port struct {
	port   io.WriteCloser
	w      io.Writer
	failed bool
}

// Open opens the device for writing.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device not set")
	}
	p, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return newPort(p), nil
}

func newPort(wc io.WriteCloser) *Port {
	return &Port{port: wc, w: CRLF(wc)}
}

func (p *Port) Write(b []byte) (int, error) {
	if _, err := p.w.Write(b); err != nil && !p.failed {
		p.failed = true
		log.Printf("diagnostic serial write failed, further errors ignored: %v", err)
	}
	return len(b), nil
}

// Failed reports whether a write to the line has failed.
func (p *Port) Failed() bool { return p.failed }

func (p *Port) Close() error {
	return p.port.Close()
}

// CRLF returns a writer that expands bare LF to CRLF.
func CRLF(w io.Writer) io.Writer {
	return &crlfWriter{w: w}
}

type crlfWriter struct {
	w       io.Writer
	afterCR bool
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	var buf bytes.Buffer
	buf.Grow(len(p) + 8)
	for _, b := range p {
		if b == '\n' && !c.afterCR {
			buf.WriteByte('\r')
		}
		buf.WriteByte(b)
		c.afterCR = b == '\r'
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
