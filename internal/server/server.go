// Package server runs the master side of a session: it accepts client
// connections, decodes framed commands, and applies every mutation on a
// single event-loop goroutine. Connection readers, phase timers and the
// liveness monitor all submit closures to that loop, so there is exactly one
// serialization point for session mutations and no need for a reentrant
// lock.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	storydb "github.com/fable-games/fable/internal/database/storydb/database"
	"github.com/fable-games/fable/internal/game"
	"github.com/fable-games/fable/internal/logging"
	"github.com/fable-games/fable/internal/protocol"
	"github.com/fable-games/fable/internal/store"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Replicator receives every saved snapshot for fan-out to standby nodes.
type Replicator interface {
	Publish(snap game.Snapshot)
}

type Server struct {
	cfg     *Config
	state   *game.State
	store   *store.Store
	stories *storydb.DB
	repl    Replicator
	clock   clockwork.Clock

	ops chan func()

	// loop-confined tables: touched only from the event loop
	conns      map[string]net.Conn
	lastActive map[string]time.Time

	timer    clockwork.Timer
	timerGen uint64
}

type Option func(*Server)

// WithReplicator hooks snapshot persistence so every save also fans the
// snapshot out to connected standby nodes.
func WithReplicator(r Replicator) Option {
	return func(s *Server) { s.repl = r }
}

// WithStoryDB records finished stories in the queryable story database.
func WithStoryDB(db *storydb.DB) Option {
	return func(s *Server) { s.stories = db }
}

// WithClock injects the clock driving timers and liveness, so tests can use
// a fake one.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func New(cfg *Config, state *game.State, st *store.Store, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		state:      state,
		store:      st,
		clock:      clockwork.NewRealClock(),
		ops:        make(chan func(), 64),
		conns:      map[string]net.Conn{},
		lastActive: map[string]time.Time{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Serve listens on the configured game address and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.GameAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.GameAddr(), err)
	}

	return s.ServeListener(ctx, ln)
}

// ServeListener serves game clients from an already-open listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logging.FromContext(ctx).Named("server")
	logger.Infof("serving game clients on %s", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.loop(ctx)
		return nil
	})

	g.Go(func() error {
		s.monitor(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	// a recovered session picks up its phase deadline before any client
	// gets back in
	s.do(ctx, func() { s.resumeTimers(ctx) })

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return fmt.Errorf("accept: %w", err)
				}
			}
			go s.handleConn(ctx, conn)
		}
	})

	return g.Wait()
}

func (s *Server) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		}
	}
}

// do submits a mutation to the event loop; ops submitted from any goroutine
// execute in a single total order.
func (s *Server) do(ctx context.Context, op func()) {
	select {
	case s.ops <- op:
	case <-ctx.Done():
	}
}

// persist snapshots the session to the recovery file and pushes the
// snapshot to the replication fan-out. Runs on the event loop.
func (s *Server) persist(ctx context.Context) {
	snap := s.state.Snapshot()

	if err := s.store.Save(snap); err != nil {
		logging.FromContext(ctx).Errorf("save snapshot: %v", err)
	}

	if s.repl != nil {
		s.repl.Publish(snap)
	}
}

// send writes one event to a single connection. A failed send only costs
// that connection: the socket is closed and its reader funnels into the
// normal teardown path.
func (s *Server) send(ctx context.Context, addr string, conn net.Conn, m protocol.Message) {
	if err := protocol.Write(conn, m); err != nil {
		logging.FromContext(ctx).Debugf("send %s to %s: %v", m.Type, addr, err)
		conn.Close()
	}
}

// sendTo looks the connection up by address first.
func (s *Server) sendTo(ctx context.Context, addr string, m protocol.Message) {
	if conn, ok := s.conns[addr]; ok {
		s.send(ctx, addr, conn, m)
	}
}

// broadcast sends an event to every connected client. One failed socket
// never aborts the rest.
func (s *Server) broadcast(ctx context.Context, m protocol.Message) {
	for addr, conn := range s.conns {
		s.send(ctx, addr, conn, m)
	}
}

func secs(d time.Duration) int {
	return int(d.Seconds())
}
