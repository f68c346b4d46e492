package game

// Snapshot is the serializable projection of the session used for crash
// recovery and master->slave replication. Connection addresses never appear
// here: sockets are ephemeral, so the narrator is keyed by username and
// re-bound to an address the next time that user joins.
type Snapshot struct {
	Story        []string   `json:"story"`
	Whitelist    []string   `json:"story_usernames"`
	NarratorName string     `json:"narrator_username"`
	Theme        string     `json:"theme"`
	Proposals    []Proposal `json:"active_proposals"`
	SegmentID    int        `json:"current_segment_id"`
	Running      bool       `json:"is_running"`
	Phase        Phase      `json:"phase"`
}

// Snapshot captures the current session state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Story:        s.Story(),
		Whitelist:    s.Whitelist(),
		NarratorName: s.narratorName,
		Theme:        s.theme,
		Proposals:    s.Proposals(),
		SegmentID:    s.segmentID,
		Running:      s.running,
		Phase:        s.phase,
	}
}

// Restore overwrites the story-scoped state from a snapshot. The connected
// roster, leader and votes are connection-scoped and left untouched; the
// narrator's address binding is dropped until the user rejoins.
func (s *State) Restore(snap Snapshot) {
	s.story = append([]string(nil), snap.Story...)
	s.whitelist = map[string]struct{}{}
	for _, name := range snap.Whitelist {
		s.whitelist[name] = struct{}{}
	}
	s.narratorName = snap.NarratorName
	s.narrator = ""
	for _, addr := range s.joined {
		if s.players[addr] == snap.NarratorName {
			s.narrator = addr
			break
		}
	}
	s.theme = snap.Theme
	s.proposals = append([]Proposal(nil), snap.Proposals...)
	s.segmentID = snap.SegmentID
	s.running = snap.Running
	s.phase = snap.Phase
	if s.phase == "" {
		s.phase = PhaseLobby
	}
}
