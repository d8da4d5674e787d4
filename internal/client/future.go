package client

import (
	"errors"
	"time"

	"github.com/bossim/venue/internal/fixml"
)

var (
	// ErrTimeout means the venue did not answer within the request
	// timeout
	ErrTimeout = errors.New("request timed out")

	// ErrClosed means the connection closed before the answer arrived
	ErrClosed = errors.New("connection closed")
)

type outcome struct {
	msg *fixml.Message
	err error
}

// Future is the single-assignment slot a pending request parks on
// until the receive loop correlates its answer. Completing twice is a
// no-op; the first outcome wins.
type Future struct {
	ch chan outcome
}

func newFuture() *Future {
	return &Future{ch: make(chan outcome, 1)}
}

func (f *Future) complete(m *fixml.Message) {
	select {
	case f.ch <- outcome{msg: m}:
	default:
	}
}

func (f *Future) fail(err error) {
	select {
	case f.ch <- outcome{err: err}:
	default:
	}
}

// Await blocks until the answer arrives or the timeout elapses
func (f *Future) Await(timeout time.Duration) (*fixml.Message, error) {
	select {
	case out := <-f.ch:
		return out.msg, out.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}
