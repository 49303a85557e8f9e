package analyzer

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// LinkState is the state of the link to the remote service.
type LinkState uint32

const (
	// LinkDown means no endpoint is known; Connect must run discovery.
	LinkDown LinkState = iota
	// LinkUp means an endpoint was discovered and the last request reached it.
	LinkUp
)

// IsUp returns if the link is up.
func (s LinkState) IsUp() bool { return s == LinkUp }

func (s LinkState) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkUp:
		return "up"
	default:
		return "unknown"
	}
}

// LinkStateHandler is invoked on every link state change.
//
// Note: the handler is invoked synchronously by the goroutine that caused the change.
// It must not call back into the Client's connect or control methods.
type LinkStateHandler func(prev, next LinkState, endpoint Endpoint)

// linkStateMgr tracks the link state and notifies registered handlers.
type linkStateMgr struct {
	mu       sync.Mutex
	state    atomic.Uint32
	nextID   atomic.Uint64
	handlers *xsync.MapOf[uint64, LinkStateHandler]
}

func newLinkStateMgr() *linkStateMgr {
	return &linkStateMgr{handlers: xsync.NewMapOf[uint64, LinkStateHandler]()}
}

func (m *linkStateMgr) State() LinkState {
	return LinkState(m.state.Load())
}

func (m *linkStateMgr) addHandler(h LinkStateHandler) uint64 {
	id := m.nextID.Add(1)
	m.handlers.Store(id, h)

	return id
}

func (m *linkStateMgr) removeHandler(id uint64) bool {
	_, ok := m.handlers.LoadAndDelete(id)
	return ok
}

// transition moves to next and reports whether the state changed.
func (m *linkStateMgr) transition(next LinkState, ep Endpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.State()
	if prev == next {
		return false
	}
	m.state.Store(uint32(next))

	m.handlers.Range(func(_ uint64, h LinkStateHandler) bool {
		h(prev, next, ep)
		return true
	})

	return true
}
