package event

import (
	"context"
	"strings"
	"testing"
)

// --- Unit Tests ---

func TestNew_Defaults(t *testing.T) {
	e := New(TypeMention)

	if e.ID == "" {
		t.Error("expected generated ID")
	}
	if e.Type != TypeMention {
		t.Errorf("Type = %q, want mention", e.Type)
	}
	if e.Priority != PriorityNormal {
		t.Errorf("Priority = %d, want normal", e.Priority)
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected CreatedAt set")
	}
	if e.Processed {
		t.Error("new event must not be processed")
	}
}

func TestNew_Options(t *testing.T) {
	e := New(TypeWebhook,
		WithPriority(PriorityCritical),
		WithSource("ingress"),
		WithSourceID("tweet-99"),
		WithUser("u1", "fan"),
		WithContent("hello"),
		WithMetadata("k", 42),
	)

	if e.Priority != PriorityCritical {
		t.Errorf("Priority = %d, want critical", e.Priority)
	}
	if e.Source != "ingress" || e.SourceID != "tweet-99" {
		t.Errorf("source = %q/%q", e.Source, e.SourceID)
	}
	if e.UserID != "u1" || e.UserName != "fan" {
		t.Errorf("user = %q/%q", e.UserID, e.UserName)
	}
	if e.Metadata["k"] != 42 {
		t.Errorf("metadata k = %v, want 42", e.Metadata["k"])
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"mention", TypeMention, false},
		{"music_release", TypeMusicRelease, false},
		{"heartbeat", TypeHeartbeat, false},
		{"bogus", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"critical", PriorityCritical},
		{"high", PriorityHigh},
		{"HIGH", PriorityHigh},
		{"normal", PriorityNormal},
		{"low", PriorityLow},
		{"whatever", PriorityNormal},
		{"", PriorityNormal},
	}

	for _, tt := range tests {
		if got := ParsePriority(tt.in); got != tt.want {
			t.Errorf("ParsePriority(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSnapshot_TruncatesContent(t *testing.T) {
	long := strings.Repeat("x", 500)
	e := New(TypeMention, WithContent(long))

	snap := e.Snapshot()
	content := snap["content"].(string)
	if len(content) != snapshotContentLimit+3 {
		t.Errorf("content length = %d, want %d", len(content), snapshotContentLimit+3)
	}
	if !strings.HasSuffix(content, "...") {
		t.Error("expected truncation marker")
	}

	short := New(TypeMention, WithContent("short"))
	if short.Snapshot()["content"] != "short" {
		t.Error("short content must not be truncated")
	}
}

func TestHandlerFunc(t *testing.T) {
	h := NewHandler("echo", func(ctx context.Context, e *Event) (string, error) {
		return e.Content, nil
	})

	if h.Name() != "echo" {
		t.Errorf("Name = %q, want echo", h.Name())
	}
	out, err := h.Handle(context.Background(), New(TypeMention, WithContent("hi")))
	if err != nil || out != "hi" {
		t.Errorf("Handle = %q, %v", out, err)
	}
}
