package testutil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/speeddrawer/server/internal/protocol"
)

var fakeSeq atomic.Int64

// ErrFakeSendFailed is returned by FakeTransport.Send when FailSends is set.
var ErrFakeSendFailed = errors.New("fake transport: send failed")

// FakeTransport is an in-memory session.Transport that records every frame
// and probe. It is safe for concurrent use.
type FakeTransport struct {
	mu          sync.Mutex
	addr        string
	frames      [][]byte
	pings       int
	closed      bool
	forceClosed bool
	failSends   bool
}

// NewFakeTransport returns an open FakeTransport with a unique address.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{addr: fmt.Sprintf("fake-%d", fakeSeq.Add(1))}
}

// Send records frame, or fails if the transport is closed or FailSends is set.
func (f *FakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fake transport %s: closed", f.addr)
	}
	if f.failSends {
		return ErrFakeSendFailed
	}
	f.frames = append(f.frames, frame)
	return nil
}

// Ping counts a liveness probe.
func (f *FakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fake transport %s: closed", f.addr)
	}
	f.pings++
	return nil
}

// Close marks the transport closed.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// ForceClose marks the transport closed and records that it was forced.
func (f *FakeTransport) ForceClose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.forceClosed = true
	return nil
}

// IsOpen reports whether the transport has not been closed.
func (f *FakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// RemoteAddr returns the fake peer address.
func (f *FakeTransport) RemoteAddr() string { return f.addr }

// SetFailSends makes subsequent Send calls fail.
func (f *FakeTransport) SetFailSends(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSends = fail
}

// Pings returns the number of probes sent.
func (f *FakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// ForceClosed reports whether ForceClose was called.
func (f *FakeTransport) ForceClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceClosed
}

// Frames returns a copy of every recorded frame.
func (f *FakeTransport) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// Messages decodes every recorded frame.
//
// Postcondition: Panics if a recorded frame does not decode; the server must
// never emit malformed frames.
func (f *FakeTransport) Messages() []protocol.Message {
	frames := f.Frames()
	out := make([]protocol.Message, 0, len(frames))
	for _, fr := range frames {
		msg, err := protocol.Decode(fr)
		if err != nil {
			panic(fmt.Sprintf("fake transport %s: recorded malformed frame: %v", f.addr, err))
		}
		out = append(out, msg)
	}
	return out
}

// Last returns the most recently recorded message, or nil.
func (f *FakeTransport) Last() protocol.Message {
	msgs := f.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// Reset discards recorded frames.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}
