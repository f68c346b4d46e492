// Package cluster implements node role election and state replication.
// Every process starts as a candidate: if it can dial the rendezvous
// address, a master already exists and the process becomes a standby
// mirroring snapshots; if the dial fails it races to bind the rendezvous
// port exclusively, and the winner serves clients.
//
// This is single-writer election by OS-level port exclusivity, not a quorum
// protocol. A network partition that hides the master can let a standby win
// a fresh bind race and produce two masters; that tradeoff is deliberate.
package cluster

import (
	"context"
	"net"
	"time"

	"github.com/fable-games/fable/internal/game"
	"github.com/fable-games/fable/internal/logging"
	"github.com/fable-games/fable/internal/server"
	"github.com/fable-games/fable/internal/store"
	"github.com/fable-games/fable/internal/util"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	dialTimeout   = 2 * time.Second
	rebindProbes  = 10
	rebindBackoff = 500 * time.Millisecond
)

type Node struct {
	id    string
	cfg   *server.Config
	state *game.State
	store *store.Store
	opts  []server.Option
}

// NewNode builds a node around the shared session state. opts are handed to
// the game server if this node wins an election.
func NewNode(cfg *server.Config, state *game.State, st *store.Store, opts ...server.Option) *Node {
	return &Node{
		id:    uuid.NewString()[:8],
		cfg:   cfg,
		state: state,
		store: st,
		opts:  opts,
	}
}

// Run drives the election loop until ctx is cancelled or this node becomes
// master and its server exits.
func (n *Node) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("cluster")
	logger.Infof("node %s starting, rendezvous %s", n.id, n.cfg.ReplicationAddr())

	// spread out bind races between processes launched together
	util.Sleep(util.Jitter(n.cfg.ElectionJitter))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := net.DialTimeout("tcp", n.cfg.ReplicationAddr(), dialTimeout)
		if err == nil {
			logger.Infof("node %s: master found, entering standby", n.id)
			n.follow(ctx, conn)
			logger.Infof("node %s: master lost, re-entering election", n.id)
			continue
		}

		ln, err := net.Listen("tcp", n.cfg.ReplicationAddr())
		if err != nil {
			// lost the race: another candidate bound first
			logger.Infof("node %s: rendezvous port taken, retrying as standby", n.id)
			n.waitForMaster(ctx)
			continue
		}

		logger.Infof("node %s: election won, serving as master on %s", n.id, n.cfg.GameAddr())
		return n.serveAsMaster(ctx, ln)
	}
}

// waitForMaster probes the rendezvous address until the winning candidate
// starts accepting, so the next dial attempt lands on a live master.
func (n *Node) waitForMaster(ctx context.Context) {
	for i := 0; i < rebindProbes; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		util.Sleep(rebindBackoff)

		conn, err := net.DialTimeout("tcp", n.cfg.ReplicationAddr(), dialTimeout)
		if err == nil {
			conn.Close()
			return
		}
	}
}

// serveAsMaster runs the replication hub and the game server. Every
// snapshot save fans out to connected standby nodes through the hub.
func (n *Node) serveAsMaster(ctx context.Context, ln net.Listener) error {
	hub := NewHub(n.state.Snapshot())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Serve(ctx, ln)
	})

	srv := server.New(n.cfg, n.state, n.store, append(n.opts, server.WithReplicator(hub))...)
	g.Go(func() error {
		return srv.Serve(ctx)
	})

	return g.Wait()
}
