package chat

import (
	"testing"
	"time"
)

func TestSendMessageAppendsToConversation(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"conversation_id": "c1", "sender": "alice", "body": "hi",
	}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	_, err = s.Apply(map[string]any{
		"conversation_id": "c1", "sender": "bob", "body": "hello",
	}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Apply() second error = %v", err)
	}

	out, err := s.Query(map[string]any{"conversation_id": "c1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	messages := out["messages"].([]*Message)
	if len(messages) != 2 || messages[0].Sender != "alice" || messages[1].Sender != "bob" {
		t.Errorf("messages = %+v, want senders [alice bob]", messages)
	}
}

func TestDeleteHidesMessageUnlessIncluded(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Apply(map[string]any{"conversation_id": "c1", "sender": "alice", "body": "hi"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	out, _ := s.Query(map[string]any{"conversation_id": "c1"})
	msgID := out["messages"].([]*Message)[0].ID

	_, err = s.Apply(map[string]any{"action": "delete", "message_id": msgID}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Apply(delete) error = %v", err)
	}

	out, _ = s.Query(map[string]any{"conversation_id": "c1"})
	if len(out["messages"].([]*Message)) != 0 {
		t.Error("deleted message still visible by default")
	}

	out, _ = s.Query(map[string]any{"conversation_id": "c1", "include_deleted": true})
	if len(out["messages"].([]*Message)) != 1 {
		t.Error("deleted message not visible with include_deleted")
	}
}

func TestApplyUndoRemovesSentMessage(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	undoData, err := s.Apply(map[string]any{"conversation_id": "c1", "sender": "alice", "body": "hi"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	out, _ := s.Query(map[string]any{"conversation_id": "c1"})
	if len(out["messages"].([]*Message)) != 0 {
		t.Error("message still present after undo of send")
	}
}

func TestApplyUndoRestoresDeleteFlag(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Apply(map[string]any{"conversation_id": "c1", "sender": "alice", "body": "hi"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	out, _ := s.Query(map[string]any{"conversation_id": "c1", "include_deleted": true})
	msgID := out["messages"].([]*Message)[0].ID

	undoData, err := s.Apply(map[string]any{"action": "delete", "message_id": msgID}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Apply(delete) error = %v", err)
	}
	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}

	out, _ = s.Query(map[string]any{"conversation_id": "c1"})
	if len(out["messages"].([]*Message)) != 1 {
		t.Error("message not visible after undoing delete")
	}
}
