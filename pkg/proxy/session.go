package proxy

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/NicolasHaas/poolproxy/pkg/payout"
	"github.com/NicolasHaas/poolproxy/pkg/stratum"
)

// ShareSubmitter receives accepted shares for asynchronous evaluation.
type ShareSubmitter interface {
	Submit(share payout.Share)
}

// Session relays one miner connection to its dedicated upstream connection
// and inspects both byte streams without altering them.
type Session struct {
	ID       string
	client   net.Conn
	upstream net.Conn
	tracker  *Tracker
	shares   ShareSubmitter
	metrics  *Metrics
	cfg      Config
	log      *slog.Logger

	closeOnce sync.Once
}

func newSession(id string, client, upstream net.Conn, cfg Config, shares ShareSubmitter, m *Metrics) *Session {
	return &Session{
		ID:       id,
		client:   client,
		upstream: upstream,
		tracker:  NewTracker(id, cfg.MaxPendingSubmits),
		shares:   shares,
		metrics:  m,
		cfg:      cfg,
		log:      slog.With("session", id, "remote", client.RemoteAddr().String()),
	}
}

// Tracker exposes the session's inspected state.
func (s *Session) Tracker() *Tracker {
	return s.tracker
}

// Run pumps both directions and returns once both have stopped.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pump(FromClient, s.client, s.upstream)
	}()
	go func() {
		defer wg.Done()
		s.pump(FromUpstream, s.upstream, s.client)
	}()
	wg.Wait()
}

// Close tears down both sockets. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.client.Close()
		_ = s.upstream.Close()
	})
}

func (s *Session) pump(dir Direction, src, dst net.Conn) {
	defer s.Close()

	var framer stratum.Framer
	buf := make([]byte, s.cfg.ReadBuffer)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			// Inspect first so a submit is pending before the pool can see it.
			// The chunk is forwarded whatever the verdict.
			keep := s.inspect(dir, &framer, chunk)
			s.metrics.addBytes(dir, n)
			if _, werr := dst.Write(chunk); werr != nil {
				s.log.Debug("relay write failed", "dir", dir.String(), "err", werr)
				return
			}
			if !keep {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("relay read ended", "dir", dir.String(), "err", err)
			}
			return
		}
	}
}

// inspect frames and interprets a chunk. It returns false when
// the session must be terminated.
func (s *Session) inspect(dir Direction, framer *stratum.Framer, chunk []byte) bool {
	lines, err := framer.Feed(chunk)
	for _, line := range lines {
		msg, derr := stratum.Decode(line)
		if derr != nil {
			s.metrics.FramingErrors.Add(1)
			s.log.Warn("undecodable line", "dir", dir.String(), "err", derr)
			if s.cfg.StrictFraming {
				return false
			}
			continue
		}
		s.metrics.MessagesDecoded.Add(1)
		s.log.Debug("message", "dir", dir.String(), "method", msg.MethodName())
		s.dispatch(dir, msg)
	}
	if err != nil {
		s.metrics.FramingErrors.Add(1)
		s.log.Warn("framing error", "dir", dir.String(), "err", err)
		return false
	}
	return true
}

func (s *Session) dispatch(dir Direction, msg *stratum.Message) {
	out, err := s.tracker.Handle(dir, msg)
	if err != nil {
		s.log.Warn("ignoring message", "dir", dir.String(), "err", err)
		return
	}

	switch out.Kind {
	case Authorized:
		s.log.Info("miner authorized", "address", s.tracker.Address())
	case Submitted:
		s.metrics.SubmitsSeen.Add(1)
	case TargetSet:
		s.log.Debug("share target updated", "target", fmt.Sprintf("%x", s.tracker.Target()))
	case ShareAccepted:
		s.metrics.SharesAccepted.Add(1)
		s.shares.Submit(out.Share)
	case ShareRejected:
		s.metrics.SharesRejected.Add(1)
		s.log.Info("share rejected by pool")
	case Unmatched:
		s.metrics.UnmatchedResponses.Add(1)
	}
}

// SessionManager tracks live sessions so shutdown can close them.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// newID returns a random session id not currently in use.
func (sm *SessionManager) newID() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id := fmt.Sprintf("%08x", binary.BigEndian.Uint32(b[:]))
		if _, exists := sm.sessions[id]; !exists {
			return id
		}
	}
}

// Add registers a session.
func (sm *SessionManager) Add(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[s.ID] = s
}

// Remove removes a session.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns all live sessions (snapshot).
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, s)
	}
	return result
}

// CloseAll closes every live session.
func (sm *SessionManager) CloseAll() {
	for _, s := range sm.All() {
		s.Close()
	}
}
