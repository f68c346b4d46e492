package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fable-games/fable/internal/game"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	in := Message{
		Type:      EvtNarratorDecision,
		Proposals: []game.Proposal{{ID: 0, Author: "Alice", Text: "Once upon a time"}},
		Timeout:   30,
	}
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.Type != in.Type || out.Timeout != in.Timeout {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if len(out.Proposals) != 1 || out.Proposals[0].Text != "Once upon a time" {
		t.Fatalf("proposals lost: %+v", out.Proposals)
	}
}

func TestFrameHeaderIsBigEndianLength(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, Message{Type: CmdHeartbeat}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) < 4 {
		t.Fatalf("frame too short: %d bytes", len(raw))
	}
	if got := binary.BigEndian.Uint32(raw[:4]); int(got) != len(raw)-4 {
		t.Fatalf("header length = %d, body length = %d", got, len(raw)-4)
	}
}

func TestReadTruncatedFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, Message{Type: CmdJoin, Username: "Alice"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	if _, err := Read(truncated); err == nil {
		t.Fatal("expected an error for a truncated frame")
	}
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	if _, err := Read(bytes.NewReader(header[:])); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadSequentialFrames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		if err := Write(&buf, Message{Type: CmdJoin, Username: name}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	for _, want := range []string{"Alice", "Bob", "Carol"} {
		m, err := Read(&buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if m.Username != want {
			t.Fatalf("username = %q, want %q", m.Username, want)
		}
	}
}
