package server

import (
	"context"
	"time"

	"github.com/fable-games/fable/internal/game"
	"github.com/fable-games/fable/internal/logging"
	"github.com/fable-games/fable/internal/protocol"
)

// Exactly one phase deadline is live at a time. startPhaseTimer replaces any
// previous deadline; the generation counter keeps a replaced timer that
// already fired from running its callback.
func (s *Server) startPhaseTimer(ctx context.Context, d time.Duration, fn func(ctx context.Context)) {
	s.timerGen++
	gen := s.timerGen

	if s.timer != nil {
		s.timer.Stop()
	}

	t := s.clock.NewTimer(d)
	s.timer = t

	go func() {
		select {
		case <-t.Chan():
			s.do(ctx, func() {
				if s.timerGen != gen {
					return // replaced after firing, the deadline is moot
				}
				fn(ctx)
			})
		case <-ctx.Done():
			t.Stop()
		}
	}()
}

func (s *Server) stopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// resumeTimers restores the phase deadline of a recovered session.
func (s *Server) resumeTimers(ctx context.Context) {
	if !s.state.Running() {
		return
	}

	logging.FromContext(ctx).Infof("resuming %s deadline", s.state.Phase())

	switch s.state.Phase() {
	case game.PhaseWriting:
		s.startPhaseTimer(ctx, s.cfg.WritingTimeout, s.onWritingTimeout)
	case game.PhaseSelecting:
		s.startPhaseTimer(ctx, s.cfg.SelectionTimeout, s.onSelectionTimeout)
	}
}

// onWritingTimeout forces the round into selection. With no submissions a
// placeholder proposal is synthesized so the narrator always has a
// candidate.
func (s *Server) onWritingTimeout(ctx context.Context) {
	if !s.state.Running() {
		return
	}

	logging.FromContext(ctx).Infof("writing deadline expired, segment %d", s.state.SegmentID())

	s.state.BeginSelection()
	s.persist(ctx)
	s.sendNarratorDecision(ctx)
	s.startPhaseTimer(ctx, s.cfg.SelectionTimeout, s.onSelectionTimeout)
}

// onSelectionTimeout picks uniformly at random for an absent narrator and
// keeps the story moving.
func (s *Server) onSelectionTimeout(ctx context.Context) {
	if !s.state.Running() {
		return
	}

	p, ok := s.state.RandomProposal()
	if !ok {
		return
	}

	logging.FromContext(ctx).Infof("selection deadline expired, auto-picking proposal %d", p.ID)

	story, err := s.state.SelectProposal(p.ID)
	if err != nil {
		return
	}

	s.persist(ctx)
	s.broadcast(ctx, protocol.Message{Type: protocol.EvtStoryUpdate, Story: story})
	s.beginSegment(ctx)
}

// autoContinue is the default when the narrator lets the continue/stop
// prompt expire.
func (s *Server) autoContinue(ctx context.Context) {
	if !s.state.Running() {
		return
	}
	s.beginSegment(ctx)
}

func (s *Server) onVotingTimeout(ctx context.Context) {
	logging.FromContext(ctx).Infof("voting deadline expired, force-resolving")
	s.checkVotes(ctx, true)
}
