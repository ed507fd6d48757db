package email

import (
	"testing"
	"time"

	imap "github.com/emersion/go-imap/v2"
)

func TestApplySendPlacesMessageInSentFolder(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"action": "send", "from": "alice@example.com", "to": []any{"bob@example.com"},
		"subject": "Hello", "body": "**hi** there",
	}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	out, err := s.Query(map[string]any{"folder": FolderSent})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	messages := out["messages"].([]map[string]any)
	if len(messages) != 1 || messages[0]["subject"] != "Hello" {
		t.Errorf("messages = %+v, want one message with subject Hello", messages)
	}
	if messages[0]["raw"].(string) == "" {
		t.Error("composed message has empty raw MIME bytes")
	}
}

func TestApplyReceivePlacesMessageInInbox(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"action": "receive", "from": "bob@example.com", "to": []any{"alice@example.com"},
		"subject": "Reply", "body": "ack",
	}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	out, err := s.Query(map[string]any{"folder": FolderInbox})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	messages := out["messages"].([]map[string]any)
	if len(messages) != 1 {
		t.Fatalf("inbox messages = %d, want 1", len(messages))
	}
}

func TestApplyUndoRemovesSentMessage(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	undoData, err := s.Apply(map[string]any{
		"action": "send", "from": "alice@example.com", "to": []any{"bob@example.com"},
		"subject": "Hello", "body": "hi",
	}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	out, _ := s.Query(map[string]any{"folder": FolderSent})
	if len(out["messages"].([]map[string]any)) != 0 {
		t.Error("message still present after undo of send")
	}
}

func TestReadAndStarTrackImapFlags(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"action": "receive", "from": "bob@example.com", "to": []any{"alice@example.com"},
		"subject": "Hi", "body": "hi",
	}, now)
	if err != nil {
		t.Fatalf("Apply(receive) error = %v", err)
	}
	id := firstMessageID(t, s, FolderInbox)

	if _, err := s.Apply(map[string]any{"action": "read", "message_id": id}, now); err != nil {
		t.Fatalf("Apply(read) error = %v", err)
	}
	if _, err := s.Apply(map[string]any{"action": "star", "message_id": id}, now); err != nil {
		t.Fatalf("Apply(star) error = %v", err)
	}

	msg := s.messages[id]
	if !msg.IsRead() || !msg.IsStarred() {
		t.Errorf("message flags = %+v, want read and starred", msg.Flags)
	}
	if !hasFlag(msg.Flags, imap.FlagSeen) || !hasFlag(msg.Flags, imap.FlagFlagged) {
		t.Error("expected imap.FlagSeen and imap.FlagFlagged to be set")
	}
}

func TestApplyDeleteMovesToTrashAndUndoRestores(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"action": "receive", "from": "bob@example.com", "to": []any{"alice@example.com"},
		"subject": "Hi", "body": "hi",
	}, now)
	if err != nil {
		t.Fatalf("Apply(receive) error = %v", err)
	}
	id := firstMessageID(t, s, FolderInbox)

	undoData, err := s.Apply(map[string]any{"action": "delete", "message_id": id}, now)
	if err != nil {
		t.Fatalf("Apply(delete) error = %v", err)
	}
	if s.messages[id].Folder != FolderTrash {
		t.Errorf("folder after delete = %q, want %q", s.messages[id].Folder, FolderTrash)
	}

	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	if s.messages[id].Folder != FolderInbox {
		t.Errorf("folder after undo = %q, want %q", s.messages[id].Folder, FolderInbox)
	}
	if s.messages[id].IsDeleted() {
		t.Error("message still flagged deleted after undo")
	}
}

func TestApplyMoveAndLabel(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"action": "receive", "from": "bob@example.com", "to": []any{"alice@example.com"},
		"subject": "Hi", "body": "hi",
	}, now)
	if err != nil {
		t.Fatalf("Apply(receive) error = %v", err)
	}
	id := firstMessageID(t, s, FolderInbox)

	_, err = s.Apply(map[string]any{"action": "move", "message_id": id, "folder": "projects"}, now)
	if err != nil {
		t.Fatalf("Apply(move) error = %v", err)
	}
	if s.messages[id].Folder != "projects" {
		t.Errorf("folder after move = %q, want projects", s.messages[id].Folder)
	}

	undoData, err := s.Apply(map[string]any{"action": "label", "message_id": id, "label": "important"}, now)
	if err != nil {
		t.Fatalf("Apply(label) error = %v", err)
	}
	if len(s.messages[id].Labels) != 1 || s.messages[id].Labels[0] != "important" {
		t.Errorf("labels = %+v, want [important]", s.messages[id].Labels)
	}

	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo(label) error = %v", err)
	}
	if len(s.messages[id].Labels) != 0 {
		t.Error("label still present after undo")
	}
}

func firstMessageID(t *testing.T, s *State, folder string) string {
	t.Helper()
	out, err := s.Query(map[string]any{"folder": folder})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	messages := out["messages"].([]map[string]any)
	if len(messages) == 0 {
		t.Fatalf("no messages in folder %q", folder)
	}
	return messages[0]["message_id"].(string)
}
