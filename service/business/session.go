package business

import (
	"fmt"
	"sync"

	"github.com/antinvestor/service-messaging/service"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// Session is one live client connection. The read loop is the only writer of
// state and profileID; sendMu serializes writes to the underlying stream so
// fanout goroutines and the read loop never interleave frames.
type Session struct {
	id        string
	profileID string
	state     SessionState
	stream    ClientStream

	sendMu sync.Mutex
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Send(event *ServerEvent) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(event)
}

// sessionSet tracks live sessions by connection ID with a hard capacity cap.
type sessionSet struct {
	mu      sync.RWMutex
	byID    map[string]*Session
	maxSize int
}

func newSessionSet(maxSize int) *sessionSet {
	return &sessionSet{
		byID:    make(map[string]*Session),
		maxSize: maxSize,
	}
}

func (ss *sessionSet) add(sess *Session) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.maxSize > 0 && len(ss.byID) >= ss.maxSize {
		return service.ErrConnectionsAtLimit
	}
	ss.byID[sess.id] = sess
	return nil
}

func (ss *sessionSet) remove(id string) {
	ss.mu.Lock()
	delete(ss.byID, id)
	ss.mu.Unlock()
}

func (ss *sessionSet) get(id string) (*Session, bool) {
	ss.mu.RLock()
	sess, ok := ss.byID[id]
	ss.mu.RUnlock()
	return sess, ok
}

func (ss *sessionSet) len() int {
	ss.mu.RLock()
	n := len(ss.byID)
	ss.mu.RUnlock()
	return n
}

// snapshot returns the current sessions so callers can iterate without
// holding the set lock.
func (ss *sessionSet) snapshot() []*Session {
	ss.mu.RLock()
	sessions := make([]*Session, 0, len(ss.byID))
	for _, sess := range ss.byID {
		sessions = append(sessions, sess)
	}
	ss.mu.RUnlock()
	return sessions
}
