// Package transport handles the byte channels on either side of the
// firewall: the agent's stdio and the target subprocess's pipes.
//
// Both sides use the MCP stdio framing: one JSON-RPC message per line,
// terminated by '\n'.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send after CloseWrite or Close.
var ErrClosed = errors.New("transport: closed")

// Transport defines the interface for MCP communication
type Transport interface {
	// Send writes one framed message.
	Send(data []byte) error
	// Receive blocks for the next framed message. It returns io.EOF once
	// the peer has closed its side.
	Receive() ([]byte, error)
	// CloseWrite signals end of output to the peer.
	CloseWrite() error
	// Close releases both directions.
	Close() error
}

// Stream implements Transport over a reader and a writer. Send is safe
// for concurrent use; Receive must be called from one goroutine.
type Stream struct {
	r *bufio.Reader
	w io.Writer

	readCloser  io.Closer
	writeCloser io.Closer

	// wmu serializes writes. mu guards closed and is never held across
	// a Write, so CloseWrite can interrupt a writer stuck on a full pipe.
	wmu    sync.Mutex
	mu     sync.Mutex
	closed bool
}

// NewStream frames r and w. Either may also implement io.Closer, in
// which case CloseWrite and Close close them.
func NewStream(r io.Reader, w io.Writer) *Stream {
	s := &Stream{r: bufio.NewReaderSize(r, 64*1024), w: w}
	if c, ok := r.(io.Closer); ok {
		s.readCloser = c
	}
	if c, ok := w.(io.Closer); ok {
		s.writeCloser = c
	}
	return s
}

// Receive returns the next non-blank line without its terminator. Lines
// have no length limit.
func (s *Stream) Receive() ([]byte, error) {
	for {
		line, err := s.r.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) > 0 {
			// A final unterminated line is still a message; the error
			// surfaces on the next call.
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Send writes data followed by a newline in a single write.
func (s *Stream) Send(data []byte) error {
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := s.w.Write(frame); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseWrite closes the writer so the peer sees EOF. A Send blocked in
// Write is released, and later Sends fail with ErrClosed.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.writeCloser != nil {
		return s.writeCloser.Close()
	}
	return nil
}

// Close closes both directions.
func (s *Stream) Close() error {
	err := s.CloseWrite()
	if s.readCloser != nil {
		if rerr := s.readCloser.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

var _ Transport = (*Stream)(nil)
