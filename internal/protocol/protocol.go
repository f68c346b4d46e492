// Package protocol implements the client wire format: every message is a
// 4-byte big-endian length prefix followed by that many bytes of UTF-8
// encoded JSON with string keys.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fable-games/fable/internal/game"
)

// Commands (client -> server).
const (
	CmdJoin           = "JOIN_STORY"
	CmdStartGame      = "START_GAME"
	CmdSubmitProposal = "SUBMIT_PROPOSAL"
	CmdHeartbeat      = "HEARTBEAT"
	CmdSelectProposal = "SELECT_PROPOSAL"
	CmdDecideContinue = "DECIDE_CONTINUE"
	CmdVoteRestart    = "VOTE_RESTART"
	CmdVoteNo         = "VOTE_NO"
)

// Narrator decisions carried by CmdDecideContinue.
const (
	ActionContinue = "CONTINUE"
	ActionStop     = "STOP"
)

// Events (server -> client).
const (
	EvtWelcome          = "WELCOME"
	EvtGameStarted      = "GAME_STARTED"
	EvtNewSegment       = "START_SEGMENT"
	EvtNarratorDecision = "NARRATOR_DECISION_NEEDED"
	EvtStoryUpdate      = "STORY_UPDATE"
	EvtAskContinue      = "ASK_CONTINUE"
	EvtGameEnded        = "GAME_ENDED"
	EvtVoteUpdate       = "VOTE_UPDATE"
	EvtReturnToLobby    = "RETURN_TO_LOBBY"
	EvtGoodbye          = "GOODBYE"
	EvtLeaderUpdate     = "LEADER_UPDATE"
	EvtError            = "ERROR"
)

// MaxFrameSize bounds a single frame; anything larger is treated as a
// protocol error and the connection is dropped.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)

// Message is the flat document exchanged on the wire. Fields not relevant to
// a given type are left at their zero value and omitted from the encoding.
type Message struct {
	Type string `json:"type"`

	// command payloads
	Username   string `json:"username,omitempty"`
	Text       string `json:"text,omitempty"`
	ProposalID *int   `json:"proposal_id,omitempty"`
	Action     string `json:"action,omitempty"`

	// event payloads
	Msg         string          `json:"msg,omitempty"`
	IsLeader    *bool           `json:"is_leader,omitempty"`
	Narrator    string          `json:"narrator,omitempty"`
	Theme       string          `json:"theme,omitempty"`
	AmINarrator *bool           `json:"am_i_narrator,omitempty"`
	IsSpectator *bool           `json:"is_spectator,omitempty"`
	SegmentID   *int            `json:"segment_id,omitempty"`
	Timeout     int             `json:"timeout,omitempty"`
	Proposals   []game.Proposal `json:"proposals,omitempty"`
	Story       []string        `json:"story,omitempty"`
	FinalStory  []string        `json:"final_story,omitempty"`
	Count       *int            `json:"count,omitempty"`
	Needed      *int            `json:"needed,omitempty"`
}

// Write frames and sends one message.
func Write(w io.Writer, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// Read consumes exactly one framed message. A truncated frame or malformed
// body is returned as an error; callers treat any error as a disconnect.
func Read(r io.Reader) (Message, error) {
	var m Message

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return m, fmt.Errorf("read header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return m, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return m, fmt.Errorf("read body: %w", err)
	}

	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("unmarshal message: %w", err)
	}

	return m, nil
}

// Int returns a pointer to v, for the optional numeric fields.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for the optional boolean fields.
func Bool(v bool) *bool { return &v }
