package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript"
	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript/store"
)

func sampleConversation(sessionID string) store.Conversation {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return store.Conversation{
		SessionID: sessionID,
		Topic:     "kinematics",
		StartedAt: base,
		Entries: []transcript.Entry{
			{Origin: transcript.OriginHuman, Text: "what is acceleration", At: base.Add(2 * time.Second)},
			{Origin: transcript.OriginModel, Text: "the rate of change of velocity", At: base.Add(5 * time.Second)},
		},
	}
}

func TestMemory_SaveAndLoad(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	ctx := context.Background()

	if err := m.SaveConversation(ctx, sampleConversation("s1")); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if err := m.SaveConversation(ctx, sampleConversation("s2")); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	entries, err := m.LoadConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Origin != transcript.OriginHuman || entries[1].Origin != transcript.OriginModel {
		t.Errorf("origins = %v, %v", entries[0].Origin, entries[1].Origin)
	}

	if got := len(m.Saved()); got != 2 {
		t.Errorf("saved conversations = %d, want 2", got)
	}
}

func TestMemory_LoadUnknownSession(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	entries, err := m.LoadConversation(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestMemory_SavedCopyIsIsolated(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	conv := sampleConversation("s1")
	if err := m.SaveConversation(context.Background(), conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	// Mutating the caller's slice after saving must not leak into the store.
	conv.Entries[0].Text = "mutated"

	entries, err := m.LoadConversation(context.Background(), "s1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if entries[0].Text != "what is acceleration" {
		t.Errorf("stored entry mutated through caller slice: %q", entries[0].Text)
	}
}
