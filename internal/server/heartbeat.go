package server

import (
	"context"

	"github.com/fable-games/fable/internal/logging"
)

// monitor evicts connections that have been silent for longer than the
// heartbeat timeout. Eviction is just a socket close: the connection's
// reader then funnels into the same teardown path as any other disconnect.
func (s *Server) monitor(ctx context.Context) {
	logger := logging.FromContext(ctx).Named("server.monitor")

	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.do(ctx, func() {
				now := s.clock.Now()
				for addr, last := range s.lastActive {
					if now.Sub(last) <= s.cfg.HeartbeatTimeout {
						continue
					}
					logger.Infof("evicting silent connection %s", addr)
					if conn, ok := s.conns[addr]; ok {
						conn.Close()
					}
				}
			})
		}
	}
}
