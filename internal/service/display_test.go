package service

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
)

func TestControlID_RoundTrip(t *testing.T) {
	for _, action := range []lifecycle.Action{
		lifecycle.ActionClaim, lifecycle.ActionUnclaim, lifecycle.ActionPending, lifecycle.ActionTransfer, lifecycle.ActionClose,
	} {
		gotAction, gotID, err := DecodeControlID(EncodeControlID(action, "123456"))
		if err != nil || gotAction != action || gotID != "123456" {
			t.Fatalf("%s: got %s/%s/%v", action, gotAction, gotID, err)
		}
	}
}

func TestDecodeControlID_RejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "ticket", "ticket:claim", "panel:claim:123456", "ticket:explode:123456", "ticket:claim:123:456"} {
		if _, _, err := DecodeControlID(id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func notesOf(n int, size int) []domain.Note {
	notes := make([]domain.Note, n)
	for i := range notes {
		notes[i] = domain.Note{
			AuthorID:  "S1",
			Text:      strings.Repeat(string(rune('a'+i%26)), size),
			CreatedAt: testStart.Add(time.Duration(i) * time.Minute),
		}
	}
	return notes
}

func TestRenderNotes_FitsWithinLimit(t *testing.T) {
	out := RenderNotes(notesOf(3, 10), 1024)
	if strings.Contains(out, "omitted") || strings.Count(out, "\n") != 2 {
		t.Fatalf("unexpected rendering:\n%s", out)
	}
	if !strings.HasPrefix(out, "[2024-03-01 12:00] <@S1>: aaaaaaaaaa") {
		t.Fatalf("expected oldest first, got:\n%s", out)
	}
}

func TestRenderNotes_DropsOldestWithMarker(t *testing.T) {
	notes := notesOf(30, 100)
	out := RenderNotes(notes, 1024)

	if n := utf8.RuneCountInString(out); n > 1024 {
		t.Fatalf("rendered %d characters, limit 1024", n)
	}
	if !strings.HasPrefix(out, "… ") || !strings.Contains(out, "earlier notes omitted") {
		t.Fatalf("expected omission marker, got:\n%s", out)
	}
	newest := notes[len(notes)-1].Text
	if !strings.HasSuffix(out, newest) {
		t.Fatal("newest note must be kept")
	}
	if strings.Contains(out, "[2024-03-01 12:00]") {
		t.Fatal("oldest note must be dropped first")
	}
}

func TestRenderNotes_TruncatesSingleHugeNote(t *testing.T) {
	out := RenderNotes(notesOf(1, 5000), 1024)
	if n := utf8.RuneCountInString(out); n != 1024 {
		t.Fatalf("expected exactly the limit, got %d", n)
	}
	if !strings.HasSuffix(out, "…") {
		t.Fatal("expected ellipsis")
	}
}

func TestRenderNotes_Empty(t *testing.T) {
	if got := RenderNotes(nil, 1024); got != "No notes yet." {
		t.Fatalf("got %q", got)
	}
}
