// Package game holds the authoritative model of one storytelling session:
// players, roles, phase, story, proposals and votes. It knows nothing about
// sockets, timers or goroutines; the server confines every mutation to its
// event loop, so State carries no locking of its own.
package game

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/valyala/fastrand"
)

// FallbackTheme is used when no theme list could be loaded.
const FallbackTheme = "A mysterious theme"

// PlaceholderAuthor signs the proposal synthesized when a writing round
// times out with no submissions.
const PlaceholderAuthor = "System"

var (
	ErrNotEnoughPlayers = fmt.Errorf("at least two players are required")
	ErrWrongPhase       = fmt.Errorf("not allowed in the current phase")
	ErrNarratorProposal = fmt.Errorf("the narrator cannot submit proposals")
	ErrSpectator        = fmt.Errorf("spectators cannot submit proposals")
	ErrProposalNotFound = fmt.Errorf("proposal not found")
)

type Phase string

const (
	PhaseLobby     Phase = "LOBBY"
	PhaseWriting   Phase = "WRITING"
	PhaseSelecting Phase = "SELECTING"
	PhaseVoting    Phase = "VOTING"
)

// Proposal is one writer's candidate text for the current segment. IDs are
// sequential from 0 within a round.
type Proposal struct {
	ID     int    `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

// StoryInfo describes a freshly started story.
type StoryInfo struct {
	NarratorAddr string
	NarratorName string
	Theme        string
}

type State struct {
	players map[string]string
	joined  []string // connection addresses in join order, drives leader succession

	leader       string
	narrator     string // connection address, empty while the narrator is offline
	narratorName string // stable across reconnects and crashes

	theme     string
	themes    []string
	story     []string
	whitelist map[string]struct{}
	proposals []Proposal
	votes     map[string]bool

	segmentID int
	running   bool
	phase     Phase

	rnd *rand.Rand
}

// Option configures a State.
type Option func(*State)

// WithRand injects the random source used for narrator, theme and timeout
// auto-pick selection, so tests can assert determinism.
func WithRand(rnd *rand.Rand) Option {
	return func(s *State) { s.rnd = rnd }
}

// NewState builds an empty lobby. themes may be nil; starting a story then
// falls back to FallbackTheme.
func NewState(themes []string, opts ...Option) *State {
	s := &State{
		players:   map[string]string{},
		whitelist: map[string]struct{}{},
		votes:     map[string]bool{},
		themes:    themes,
		phase:     PhaseLobby,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rnd == nil {
		seed := int64(fastrand.Uint32())<<32 | int64(fastrand.Uint32())
		s.rnd = rand.New(rand.NewSource(seed))
	}

	return s
}

// AddPlayer registers a connection under its trimmed display name. The first
// player into an empty room becomes leader. If a story is running and the
// name matches the persisted narrator, the narrator role is re-bound to the
// new address (recovery and reconnect path).
func (s *State) AddPlayer(addr, rawName string) string {
	name := strings.TrimSpace(rawName)

	if _, ok := s.players[addr]; !ok {
		s.joined = append(s.joined, addr)
	}
	s.players[addr] = name

	if s.leader == "" {
		s.leader = addr
	}

	if s.running && s.narratorName != "" && name == s.narratorName {
		s.narrator = addr
	}

	return name
}

// RemovePlayer drops a connection from the roster. If it held the leader
// role, leadership passes to the earliest-joined remaining player and that
// address is returned for notification; otherwise the empty string. The
// narrator's address binding is detached but narratorName survives.
func (s *State) RemovePlayer(addr string) string {
	if _, ok := s.players[addr]; !ok {
		return ""
	}

	delete(s.players, addr)
	delete(s.votes, addr)
	for i, a := range s.joined {
		if a == addr {
			s.joined = append(s.joined[:i], s.joined[i+1:]...)
			break
		}
	}

	if s.narrator == addr {
		s.narrator = ""
	}

	if s.leader == addr {
		s.leader = ""
		if len(s.joined) > 0 {
			s.leader = s.joined[0]
			return s.leader
		}
	}

	return ""
}

// StartNewStory begins a fresh story: requires at least two connected
// players, snapshots the participant whitelist, and picks a random narrator
// and theme. The story, votes and segment counter are reset.
func (s *State) StartNewStory() (StoryInfo, error) {
	if len(s.players) < 2 {
		return StoryInfo{}, ErrNotEnoughPlayers
	}

	s.whitelist = map[string]struct{}{}
	for _, name := range s.players {
		s.whitelist[name] = struct{}{}
	}

	addr := s.joined[s.rnd.Intn(len(s.joined))]
	s.narrator = addr
	s.narratorName = s.players[addr]

	s.theme = FallbackTheme
	if len(s.themes) > 0 {
		s.theme = s.themes[s.rnd.Intn(len(s.themes))]
	}

	s.story = nil
	s.proposals = nil
	s.votes = map[string]bool{}
	s.segmentID = 0
	s.running = true

	return StoryInfo{NarratorAddr: addr, NarratorName: s.narratorName, Theme: s.theme}, nil
}

// StartNewSegment opens the next writing round and returns its id.
func (s *State) StartNewSegment() int {
	s.segmentID++
	s.proposals = nil
	s.phase = PhaseWriting
	return s.segmentID
}

// AddProposal validates and stores a writer's submission for the current
// segment. The narrator is matched by persisted username, not address, so
// the check survives reconnects.
func (s *State) AddProposal(addr, text string) (Proposal, error) {
	if s.phase != PhaseWriting {
		return Proposal{}, ErrWrongPhase
	}

	name := s.players[addr]
	if name == s.narratorName {
		return Proposal{}, ErrNarratorProposal
	}
	if _, ok := s.whitelist[name]; !ok {
		return Proposal{}, ErrSpectator
	}

	p := Proposal{ID: len(s.proposals), Author: name, Text: text}
	s.proposals = append(s.proposals, p)
	return p, nil
}

// BeginSelection moves the round to the narrator's pick. If the writing
// deadline expired with no submissions, a single placeholder proposal is
// synthesized so selection always has a candidate.
func (s *State) BeginSelection() {
	s.phase = PhaseSelecting
	if len(s.proposals) == 0 {
		s.proposals = append(s.proposals, Proposal{ID: 0, Author: PlaceholderAuthor, Text: "..."})
	}
}

// SelectProposal appends the chosen proposal's text to the story and clears
// the candidate set. An unknown id leaves the state untouched.
func (s *State) SelectProposal(id int) ([]string, error) {
	if s.phase != PhaseSelecting {
		return nil, ErrWrongPhase
	}

	for _, p := range s.proposals {
		if p.ID == id {
			s.story = append(s.story, p.Text)
			s.proposals = nil
			return s.Story(), nil
		}
	}

	return nil, ErrProposalNotFound
}

// RandomProposal picks uniformly among the current candidates, for the
// narrator-timeout auto-pick.
func (s *State) RandomProposal() (Proposal, bool) {
	if len(s.proposals) == 0 {
		return Proposal{}, false
	}
	return s.proposals[s.rnd.Intn(len(s.proposals))], true
}

// EndStory stops the running game and opens the restart vote.
func (s *State) EndStory() {
	s.running = false
	s.phase = PhaseVoting
}

// AbortGame is the forced reset taken when the narrator disconnects
// mid-game: proposals, votes and the whitelist are cleared and the phase
// returns to the lobby. The connected-player roster is untouched.
func (s *State) AbortGame() {
	s.proposals = nil
	s.votes = map[string]bool{}
	s.whitelist = map[string]struct{}{}
	s.running = false
	s.phase = PhaseLobby
}

// RegisterVote records a player's restart (true) or leave (false) choice and
// returns how many votes are in.
func (s *State) RegisterVote(addr string, restart bool) int {
	s.votes[addr] = restart
	return len(s.votes)
}

// ResolveVotes closes the voting round: votes are cleared and the session
// returns to the lobby phase.
func (s *State) ResolveVotes() {
	s.votes = map[string]bool{}
	s.phase = PhaseLobby
}

// CountActiveWriters reports how many currently-connected, whitelisted
// participants are expected to submit (the narrator excluded).
func (s *State) CountActiveWriters() int {
	var n int
	for _, name := range s.players {
		if name == s.narratorName {
			continue
		}
		if _, ok := s.whitelist[name]; ok {
			n++
		}
	}
	return n
}

// HasUserSubmitted reports whether a proposal from name is already in.
func (s *State) HasUserSubmitted(name string) bool {
	for _, p := range s.proposals {
		if p.Author == name {
			return true
		}
	}
	return false
}

func (s *State) Leader() string       { return s.leader }
func (s *State) NarratorAddr() string { return s.narrator }
func (s *State) NarratorName() string { return s.narratorName }
func (s *State) Theme() string        { return s.theme }
func (s *State) Phase() Phase         { return s.phase }
func (s *State) Running() bool        { return s.running }
func (s *State) SegmentID() int       { return s.segmentID }
func (s *State) PlayerCount() int     { return len(s.players) }
func (s *State) ProposalCount() int   { return len(s.proposals) }
func (s *State) VoteCount() int       { return len(s.votes) }
func (s *State) WhitelistSize() int   { return len(s.whitelist) }

// NameOf resolves a connection address to its display name.
func (s *State) NameOf(addr string) (string, bool) {
	name, ok := s.players[addr]
	return name, ok
}

// IsWhitelisted reports whether name was present when the story started.
func (s *State) IsWhitelisted(name string) bool {
	_, ok := s.whitelist[name]
	return ok
}

// Addrs returns the connected addresses in join order.
func (s *State) Addrs() []string {
	out := make([]string, len(s.joined))
	copy(out, s.joined)
	return out
}

// Whitelist returns the story participants' usernames.
func (s *State) Whitelist() []string {
	out := make([]string, 0, len(s.whitelist))
	for name := range s.whitelist {
		out = append(out, name)
	}
	return out
}

// Story returns a copy of the finalized segments so far.
func (s *State) Story() []string {
	out := make([]string, len(s.story))
	copy(out, s.story)
	return out
}

// Proposals returns a copy of the current candidate set.
func (s *State) Proposals() []Proposal {
	out := make([]Proposal, len(s.proposals))
	copy(out, s.proposals)
	return out
}

// Votes returns a copy of the pending restart/leave choices by address.
func (s *State) Votes() map[string]bool {
	out := make(map[string]bool, len(s.votes))
	for addr, v := range s.votes {
		out[addr] = v
	}
	return out
}
