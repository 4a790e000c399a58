// Package channels provides a timeout-guarded channel wrapper used for
// fire-and-forget fan-out to workers that must never block indefinitely.
package channels

import (
	"errors"
	"sync"
	"time"
)

// ChannelTimeout represents a channel with timeout-guarded send/receive.
type ChannelTimeout interface {
	// Receive returns an object from the channel, or an error if the timeout expires.
	// A zero timeout blocks until an object is available.
	Receive(timeout time.Duration) (interface{}, error)

	// Send adds obj to the channel, or returns an error if the timeout expires.
	// A zero timeout blocks until the object is accepted.
	Send(obj interface{}, timeout time.Duration) error

	// Close closes the channel.
	Close() error

	// Channel returns the underlying channel.
	Channel() chan interface{}
}

type chTimeout struct {
	ch       chan interface{}
	isClosed bool
	sync.Mutex
}

var (
	errChannelFullTimeout  = errors.New("channel full timeout")
	errChannelEmptyTimeout = errors.New("channel empty timeout")
	errChannelClosed       = errors.New("channel is closed")
)

// NewChannelTimeout creates a ChannelTimeout with the given buffer capacity.
func NewChannelTimeout(capacity int) ChannelTimeout {
	return &chTimeout{
		ch: make(chan interface{}, capacity),
	}
}

func (ct *chTimeout) Receive(timeout time.Duration) (interface{}, error) {
	if timeout == 0 {
		obj := <-ct.ch
		return obj, nil
	}

	select {
	case obj := <-ct.ch:
		return obj, nil
	case <-time.After(timeout):
		return nil, errChannelEmptyTimeout
	}
}

func (ct *chTimeout) Send(obj interface{}, timeout time.Duration) error {
	if timeout == 0 {
		ct.ch <- obj
		return nil
	}

	select {
	case ct.ch <- obj:
		return nil
	case <-time.After(timeout):
		return errChannelFullTimeout
	}
}

func (ct *chTimeout) Close() error {
	ct.Lock()
	defer ct.Unlock()
	if ct.isClosed {
		return errChannelClosed
	}
	close(ct.ch)
	ct.isClosed = true
	return nil
}

func (ct *chTimeout) Channel() chan interface{} {
	return ct.ch
}
