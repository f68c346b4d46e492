package server

import (
	"context"
	"fmt"
	"net"

	"github.com/fable-games/fable/internal/database/storydb/model"
	"github.com/fable-games/fable/internal/game"
	"github.com/fable-games/fable/internal/logging"
	"github.com/fable-games/fable/internal/protocol"
	"github.com/fable-games/fable/internal/store"
	"github.com/google/uuid"
)

// handleConn owns one client connection: it blocks on framed reads and
// submits each command to the event loop. Read errors, including malformed
// frames, are treated as a disconnect rather than reported to the peer.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := logging.FromContext(ctx).Named("server.conn")
	addr := conn.RemoteAddr().String()
	logger.Infof("new connection from %s", addr)

	s.do(ctx, func() {
		s.conns[addr] = conn
		s.lastActive[addr] = s.clock.Now()
	})

	defer func() {
		s.do(ctx, func() { s.teardown(ctx, addr) })
		conn.Close()
	}()

	for {
		m, err := protocol.Read(conn)
		if err != nil {
			logger.Debugf("connection %s closed: %v", addr, err)
			return
		}

		s.do(ctx, func() {
			s.lastActive[addr] = s.clock.Now()
			if m.Type != protocol.CmdHeartbeat {
				s.dispatch(ctx, addr, conn, m)
			}
		})
	}
}

// dispatch runs on the event loop and applies one client command.
func (s *Server) dispatch(ctx context.Context, addr string, conn net.Conn, m protocol.Message) {
	switch m.Type {
	case protocol.CmdJoin:
		s.handleJoin(ctx, addr, conn, m)

	case protocol.CmdStartGame:
		s.handleStartGame(ctx, addr, conn)

	case protocol.CmdSubmitProposal:
		s.handleSubmit(ctx, addr, conn, m.Text)

	case protocol.CmdSelectProposal:
		s.handleSelect(ctx, addr, conn, m.ProposalID)

	case protocol.CmdDecideContinue:
		s.handleDecision(ctx, addr, m.Action)

	case protocol.CmdVoteRestart:
		s.handleVote(ctx, addr, true)

	case protocol.CmdVoteNo:
		s.handleVote(ctx, addr, false)

	default:
		logging.FromContext(ctx).Debugf("unknown command %q from %s", m.Type, addr)
	}
}

func (s *Server) handleJoin(ctx context.Context, addr string, conn net.Conn, m protocol.Message) {
	raw := m.Username
	if raw == "" {
		raw = "Anonymous"
	}

	name := s.state.AddPlayer(addr, raw)
	isLeader := s.state.Leader() == addr

	s.send(ctx, addr, conn, protocol.Message{
		Type:     protocol.EvtWelcome,
		Msg:      fmt.Sprintf("Welcome, %s!", name),
		IsLeader: protocol.Bool(isLeader),
	})

	// Late joiners and reconnecting players get enough state to resume
	// without replaying the whole event history.
	if s.state.Running() {
		s.replay(ctx, addr, conn, name)
	}

	s.persist(ctx)
}

func (s *Server) replay(ctx context.Context, addr string, conn net.Conn, name string) {
	amNarrator := s.state.NarratorAddr() == addr
	spectator := !s.state.IsWhitelisted(name)

	s.send(ctx, addr, conn, protocol.Message{
		Type:        protocol.EvtGameStarted,
		Narrator:    s.state.NarratorName(),
		Theme:       s.state.Theme(),
		AmINarrator: protocol.Bool(amNarrator),
		IsSpectator: protocol.Bool(spectator),
	})
	s.send(ctx, addr, conn, protocol.Message{
		Type:  protocol.EvtStoryUpdate,
		Story: s.state.Story(),
	})

	if spectator {
		return
	}

	switch {
	case amNarrator && s.state.Phase() == game.PhaseSelecting:
		s.send(ctx, addr, conn, protocol.Message{
			Type:      protocol.EvtNarratorDecision,
			Proposals: s.state.Proposals(),
			Timeout:   secs(s.cfg.SelectionTimeout),
		})
	case !amNarrator && s.state.Phase() == game.PhaseWriting && !s.state.HasUserSubmitted(name):
		s.send(ctx, addr, conn, protocol.Message{
			Type:      protocol.EvtNewSegment,
			SegmentID: protocol.Int(s.state.SegmentID()),
			Timeout:   secs(s.cfg.WritingTimeout),
		})
	}
}

func (s *Server) handleStartGame(ctx context.Context, addr string, conn net.Conn) {
	if s.state.Running() || s.state.Leader() != addr {
		return
	}

	info, err := s.state.StartNewStory()
	if err != nil {
		s.send(ctx, addr, conn, protocol.Message{Type: protocol.EvtError, Msg: err.Error()})
		return
	}

	logging.FromContext(ctx).Infof("new story started, narrator: %s, theme: %s", info.NarratorName, info.Theme)

	for _, a := range s.state.Addrs() {
		s.sendTo(ctx, a, protocol.Message{
			Type:        protocol.EvtGameStarted,
			Narrator:    info.NarratorName,
			Theme:       info.Theme,
			AmINarrator: protocol.Bool(a == info.NarratorAddr),
			IsSpectator: protocol.Bool(false),
		})
	}

	s.beginSegment(ctx)
}

func (s *Server) handleSubmit(ctx context.Context, addr string, conn net.Conn, text string) {
	if _, err := s.state.AddProposal(addr, text); err != nil {
		s.send(ctx, addr, conn, protocol.Message{Type: protocol.EvtError, Msg: err.Error()})
		return
	}

	s.persist(ctx)
	s.checkRoundCompletion(ctx)
}

func (s *Server) handleSelect(ctx context.Context, addr string, conn net.Conn, id *int) {
	if s.state.NarratorAddr() != addr {
		return
	}
	if id == nil {
		s.send(ctx, addr, conn, protocol.Message{Type: protocol.EvtError, Msg: "invalid proposal id"})
		return
	}

	story, err := s.state.SelectProposal(*id)
	if err != nil {
		s.send(ctx, addr, conn, protocol.Message{Type: protocol.EvtError, Msg: "invalid proposal id"})
		return
	}

	s.persist(ctx)
	s.broadcast(ctx, protocol.Message{Type: protocol.EvtStoryUpdate, Story: story})

	// only the narrator is prompted; expiry defaults to continue
	s.send(ctx, addr, conn, protocol.Message{
		Type:    protocol.EvtAskContinue,
		Timeout: secs(s.cfg.ContinueTimeout),
	})
	s.startPhaseTimer(ctx, s.cfg.ContinueTimeout, s.autoContinue)
}

func (s *Server) handleDecision(ctx context.Context, addr, action string) {
	if s.state.NarratorAddr() != addr || s.state.Phase() != game.PhaseSelecting {
		return
	}

	switch action {
	case protocol.ActionContinue:
		s.beginSegment(ctx)
	case protocol.ActionStop:
		s.finishStory(ctx)
	}
}

func (s *Server) handleVote(ctx context.Context, addr string, restart bool) {
	if s.state.Phase() != game.PhaseVoting {
		return
	}

	s.state.RegisterVote(addr, restart)
	s.persist(ctx)
	s.checkVotes(ctx, false)
}

// beginSegment opens the next writing round: new segment id, broadcast, and
// a fresh writing deadline replacing whatever timer was live.
func (s *Server) beginSegment(ctx context.Context) {
	segID := s.state.StartNewSegment()
	s.persist(ctx)

	s.broadcast(ctx, protocol.Message{
		Type:      protocol.EvtNewSegment,
		SegmentID: protocol.Int(segID),
		Timeout:   secs(s.cfg.WritingTimeout),
	})
	s.startPhaseTimer(ctx, s.cfg.WritingTimeout, s.onWritingTimeout)
}

// checkRoundCompletion moves to selection once every connected whitelisted
// writer has submitted. Also re-run after disconnects: a leaver can make the
// remaining writer count match the proposal count.
func (s *Server) checkRoundCompletion(ctx context.Context) {
	if s.state.Phase() != game.PhaseWriting {
		return
	}

	writers := s.state.CountActiveWriters()
	if writers == 0 || s.state.ProposalCount() < writers {
		return
	}

	s.stopTimer()
	s.state.BeginSelection()
	s.persist(ctx)
	s.sendNarratorDecision(ctx)
	s.startPhaseTimer(ctx, s.cfg.SelectionTimeout, s.onSelectionTimeout)
}

func (s *Server) sendNarratorDecision(ctx context.Context) {
	s.sendTo(ctx, s.state.NarratorAddr(), protocol.Message{
		Type:      protocol.EvtNarratorDecision,
		Proposals: s.state.Proposals(),
		Timeout:   secs(s.cfg.SelectionTimeout),
	})
}

// finishStory archives the completed story and opens the restart vote.
func (s *Server) finishStory(ctx context.Context) {
	logger := logging.FromContext(ctx)
	now := s.clock.Now()

	rec := store.ArchiveRecord{
		Date:     now,
		Theme:    s.state.Theme(),
		Narrator: s.state.NarratorName(),
		Story:    s.state.Story(),
	}
	if err := s.store.AppendArchive(rec); err != nil {
		logger.Errorf("archive story: %v", err)
	}

	if s.stories != nil {
		if err := s.stories.Add(model.Record{
			ID:           uuid.NewString(),
			Theme:        s.state.Theme(),
			Narrator:     s.state.NarratorName(),
			Participants: s.state.Whitelist(),
			Segments:     s.state.Story(),
			FinishedAt:   now,
		}); err != nil {
			logger.Errorf("record story: %v", err)
		}
	}

	s.stopTimer()
	s.state.EndStory()
	s.persist(ctx) // running is false now, so this clears the recovery file

	s.broadcast(ctx, protocol.Message{
		Type:       protocol.EvtGameEnded,
		FinalStory: s.state.Story(),
		Timeout:    secs(s.cfg.VotingTimeout),
	})
	s.startPhaseTimer(ctx, s.cfg.VotingTimeout, s.onVotingTimeout)
}

// checkVotes resolves the restart vote once everyone connected has voted,
// or immediately when forced by the voting deadline. Non-voters count as
// restart.
func (s *Server) checkVotes(ctx context.Context, force bool) {
	total := s.state.PlayerCount()
	voted := s.state.VoteCount()

	s.broadcast(ctx, protocol.Message{
		Type:   protocol.EvtVoteUpdate,
		Count:  protocol.Int(voted),
		Needed: protocol.Int(total),
	})

	if !force && (total == 0 || voted < total) {
		return
	}

	s.stopTimer()

	votes := s.state.Votes()
	var leaving []string
	for _, addr := range s.state.Addrs() {
		if restart, ok := votes[addr]; ok && !restart {
			s.sendTo(ctx, addr, protocol.Message{Type: protocol.EvtGoodbye, Msg: "Thanks for playing!"})
			leaving = append(leaving, addr)
		} else {
			s.sendTo(ctx, addr, protocol.Message{Type: protocol.EvtReturnToLobby})
		}
	}

	for _, addr := range leaving {
		if conn, ok := s.conns[addr]; ok {
			conn.Close()
		}
		delete(s.conns, addr)
		delete(s.lastActive, addr)
		if newLeader := s.state.RemovePlayer(addr); newLeader != "" {
			s.sendTo(ctx, newLeader, protocol.Message{Type: protocol.EvtLeaderUpdate, Msg: "You are the new leader!"})
		}
	}

	s.state.ResolveVotes()
	s.persist(ctx)
}

// teardown runs exactly once per connection, whether the peer closed, a
// frame failed to decode, or the liveness monitor evicted it.
func (s *Server) teardown(ctx context.Context, addr string) {
	_, connected := s.conns[addr]
	_, known := s.state.NameOf(addr)
	if !connected && !known {
		return
	}

	logging.FromContext(ctx).Infof("connection %s gone", addr)

	delete(s.conns, addr)
	delete(s.lastActive, addr)

	// losing the narrator aborts the game from any running phase
	if s.state.Running() && s.state.NarratorAddr() == addr {
		s.stopTimer()
		s.broadcast(ctx, protocol.Message{Type: protocol.EvtReturnToLobby, Msg: "The narrator disconnected, game aborted."})
		s.state.AbortGame()
	}

	if newLeader := s.state.RemovePlayer(addr); newLeader != "" {
		s.sendTo(ctx, newLeader, protocol.Message{Type: protocol.EvtLeaderUpdate, Msg: "You are the new leader!"})
	}

	s.persist(ctx)

	if s.state.Running() {
		// the leaver may have been the last missing submission
		s.checkRoundCompletion(ctx)
	} else if s.state.Phase() == game.PhaseVoting && s.state.VoteCount() > 0 {
		// or the last missing vote
		s.checkVotes(ctx, false)
	}
}
