package proxy

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Run starts the proxy and blocks until a shutdown signal arrives.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(s.cfg.LogInterval, s.ctx.Done())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	case <-s.ctx.Done():
	}
	s.Shutdown()
	s.metrics.LogSummary()
	return nil
}
