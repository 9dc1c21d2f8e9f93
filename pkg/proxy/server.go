// Package proxy implements the transparent stratum relay.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Config holds proxy configuration.
type Config struct {
	ListenAddr        string        // TCP bind address for miners (e.g. ":3333")
	UpstreamAddr      string        // pool host:port every session dials
	DialTimeout       time.Duration // upstream connect timeout
	ReadBuffer        int           // bytes read per socket read
	MaxPendingSubmits int           // unacknowledged submit ids kept per session (0 = unbounded)
	StrictFraming     bool          // terminate a session on an undecodable line
	MetricsAddr       string        // HTTP bind address for /metrics (empty = disabled)
	LogInterval       time.Duration // periodic metrics log interval (0 = disabled)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":3333",
		UpstreamAddr:      "us1-zcash.flypool.org:3333",
		DialTimeout:       10 * time.Second,
		ReadBuffer:        4096,
		MaxPendingSubmits: 1024,
		StrictFraming:     true,
		MetricsAddr:       ":9602",
		LogInterval:       60 * time.Second,
	}
}

// Dependencies holds external dependencies for the proxy.
type Dependencies struct {
	Shares ShareSubmitter
	// Metrics is optional; a fresh instance is created when nil.
	Metrics *Metrics
}

// Server accepts miner connections and relays each to the upstream pool.
type Server struct {
	cfg      Config
	sessions *SessionManager
	metrics  *Metrics
	shares   ShareSubmitter
	listener net.Listener
	dialer   net.Dialer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	m := deps.Metrics
	if m == nil {
		m = NewMetrics()
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultConfig().ReadBuffer
	}
	return &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		metrics:  m,
		shares:   deps.Shares,
		dialer:   net.Dialer{Timeout: cfg.DialTimeout},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the proxy metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the miner listener and begins accepting in the background.
func (s *Server) Start() error {
	if s.shares == nil {
		return fmt.Errorf("proxy: missing share submitter dependency")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen: %w", err)
	}
	s.listener = ln
	slog.Info("stratum proxy listening", "addr", ln.Addr().String(), "upstream", s.cfg.UpstreamAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// acceptLoop runs until the server context ends. Consecutive accept errors
// (e.g. EMFILE) back off exponentially up to maxAcceptBackoff.
func (s *Server) acceptLoop(ln net.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			backoff = nextAcceptBackoff(backoff)
			slog.Error("accept error", "err", err, "retry_in", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		backoff = 0
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func nextAcceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	if next := prev * 2; next < maxAcceptBackoff {
		return next
	}
	return maxAcceptBackoff
}

// handleConn dials the upstream for a new miner and runs the session.
func (s *Server) handleConn(client net.Conn) {
	s.metrics.TotalConnections.Add(1)
	remote := client.RemoteAddr().String()

	upstream, err := s.dialer.DialContext(s.ctx, "tcp", s.cfg.UpstreamAddr)
	if err != nil {
		s.metrics.UpstreamDialFailures.Add(1)
		slog.Warn("upstream dial failed", "remote", remote, "upstream", s.cfg.UpstreamAddr, "err", err)
		_ = client.Close()
		return
	}

	sess := newSession(s.sessions.newID(), client, upstream, s.cfg, s.shares, s.metrics)
	s.sessions.Add(sess)
	s.metrics.ActiveConnections.Add(1)
	sess.log.Info("miner connected")

	defer func() {
		s.sessions.Remove(sess.ID)
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		sess.log.Info("miner disconnected")
	}()

	// A shutdown that raced the dial must not leave this session behind.
	if s.ctx.Err() != nil {
		sess.Close()
		return
	}
	sess.Run()
}

// Shutdown stops accepting, closes live sessions and waits for their
// goroutines to exit.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.sessions.CloseAll()
	s.wg.Wait()
}
