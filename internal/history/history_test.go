package history

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("thread-1", "c1", RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("thread-1", "c1", RoleAssistant, "hi, how can I help?"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("thread-2", "c2", RoleUser, "other thread"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Recent("thread-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser || entries[0].Text != "hello" {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Role != RoleAssistant {
		t.Errorf("unexpected second entry %+v", entries[1])
	}
}

func TestDuplicateCorrelationKeyIgnored(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("t", "dup", RoleAssistant, "first"); err != nil {
		t.Fatal(err)
	}
	// Redelivery after reconnect ends up here twice; the second write is a no-op.
	if err := s.Record("t", "dup", RoleAssistant, "second"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Recent("t", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "first" {
		t.Errorf("duplicate overwrote original: %q", entries[0].Text)
	}
}

func TestRecentLimitKeepsNewest(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		if err := s.Record("t", key, RoleAssistant, key); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Recent("t", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Oldest-first ordering over the newest three rows.
	if entries[0].Text != "h" || entries[2].Text != "j" {
		t.Errorf("unexpected window: %+v", entries)
	}
}
