package cluster

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/fable-games/fable/internal/game"
	"github.com/fable-games/fable/internal/logging"
)

// The master pushes snapshots opportunistically rather than
// request/response, so the replication stream delimits documents with a
// sentinel line instead of a length prefix.
const sentinel = "\n__END__\n"

const maxSnapshotSize = 4 << 20

func encodeSnapshot(snap game.Snapshot) ([]byte, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(body, sentinel...), nil
}

// Hub is the master-side fan-out: it accepts standby connections, pushes
// the current snapshot to each newcomer, and forwards every published
// snapshot. A standby that fails a write is dropped without affecting the
// others or the master's own state.
type Hub struct {
	mu     sync.Mutex
	slaves []net.Conn
	last   []byte
}

func NewHub(snap game.Snapshot) *Hub {
	h := &Hub{}
	if payload, err := encodeSnapshot(snap); err == nil {
		h.last = payload
	}
	return h
}

// Serve accepts standby connections until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	logger := logging.FromContext(ctx).Named("cluster.hub")
	logger.Infof("replication hub on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("replication accept: %w", err)
			}
		}

		h.mu.Lock()
		h.slaves = append(h.slaves, conn)
		payload := h.last
		h.mu.Unlock()

		logger.Infof("standby connected from %s", conn.RemoteAddr())

		if len(payload) > 0 {
			if _, err := conn.Write(payload); err != nil {
				h.drop(conn)
			}
		}
	}
}

// Publish fans a snapshot out to every connected standby.
func (h *Hub) Publish(snap game.Snapshot) {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = payload

	keep := h.slaves[:0]
	for _, conn := range h.slaves {
		if _, err := conn.Write(payload); err != nil {
			conn.Close()
			continue
		}
		keep = append(keep, conn)
	}
	h.slaves = keep
}

func (h *Hub) drop(conn net.Conn) {
	conn.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.slaves {
		if c == conn {
			h.slaves = append(h.slaves[:i], h.slaves[i+1:]...)
			return
		}
	}
}

// follow is the standby side: it applies every snapshot from the master to
// the local session state and persists it, keeping a warm replica ready for
// promotion. Returns when the master connection drops.
func (n *Node) follow(ctx context.Context, conn net.Conn) {
	logger := logging.FromContext(ctx).Named("cluster.standby")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSnapshotSize)
	scanner.Split(splitSnapshots)

	for scanner.Scan() {
		var snap game.Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			logger.Warnf("bad snapshot from master: %v", err)
			continue
		}

		n.state.Restore(snap)
		if err := n.store.Save(snap); err != nil {
			logger.Errorf("persist replicated snapshot: %v", err)
		}

		logger.Debugf("applied snapshot, segment %d, phase %s", snap.SegmentID, snap.Phase)
	}
}

// splitSnapshots tokenizes the replication stream on the sentinel line.
func splitSnapshots(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.Index(data, []byte(sentinel)); i >= 0 {
		return i + len(sentinel), data[:i], nil
	}
	if atEOF {
		return 0, nil, bufio.ErrFinalToken
	}
	return 0, nil, nil
}
