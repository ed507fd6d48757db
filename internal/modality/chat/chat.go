// Package chat implements the chat modality: ordered per-conversation
// transcripts of messages from named senders (spec §3 Chat).
package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Message is a single chat message.
type Message struct {
	ID         string    `json:"message_id"`
	Conversation string  `json:"conversation_id"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
	Deleted    bool      `json:"deleted"`
}

// State is the chat modality's in-memory model.
type State struct {
	messages    map[string]*Message
	order       map[string][]string // conversation_id -> message ids, oldest first
	updateCount int
	lastUpdated time.Time
}

// New creates an empty chat State.
func New() *State {
	return &State{
		messages: make(map[string]*Message),
		order:    make(map[string][]string),
	}
}

func (s *State) ModalityType() modality.Type { return modality.TypeChat }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

// Validate checks payload shape for the given action.
func (s *State) Validate(payload map[string]any) error {
	action, _ := payload["action"].(string)
	switch action {
	case "", "send_message":
		if _, ok := payload["conversation_id"].(string); !ok {
			return apierr.NewValidation("chat: conversation_id is required")
		}
		if _, ok := payload["sender"].(string); !ok {
			return apierr.NewValidation("chat: sender is required")
		}
		if _, ok := payload["body"].(string); !ok {
			return apierr.NewValidation("chat: body is required")
		}
	case "delete":
		if _, ok := payload["message_id"].(string); !ok {
			return apierr.NewValidation("chat: message_id is required for delete")
		}
	default:
		return apierr.NewValidationf("chat: unsupported action %q", action)
	}
	return nil
}

// Apply sends or deletes a message depending on payload's action
// (default "send_message").
func (s *State) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	if err := s.Validate(payload); err != nil {
		return nil, err
	}
	action, _ := payload["action"].(string)
	if action == "" {
		action = "send_message"
	}

	prevCount, prevUpdated := s.updateCount, s.lastUpdated

	switch action {
	case "send_message":
		id := uuid.NewString()
		msg := &Message{
			ID:           id,
			Conversation: payload["conversation_id"].(string),
			Sender:       payload["sender"].(string),
			Body:         payload["body"].(string),
			SentAt:       now,
		}
		s.messages[id] = msg
		s.order[msg.Conversation] = append(s.order[msg.Conversation], id)
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "remove_message",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"message_id":            id,
			"conversation_id":       msg.Conversation,
		}, nil

	case "delete":
		id := payload["message_id"].(string)
		msg, ok := s.messages[id]
		if !ok {
			return nil, apierr.NewNotFoundf("chat: message %q not found", id)
		}
		wasDeleted := msg.Deleted
		msg.Deleted = true
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_deleted_flag",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"message_id":            id,
			"was_deleted":           wasDeleted,
		}, nil
	}

	return nil, apierr.NewValidationf("chat: unsupported action %q", action)
}

// ApplyUndo reverses send_message (removing the message) or delete
// (restoring its deleted flag).
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)

	switch action {
	case "remove_message":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("chat: undo_data missing message_id")
		}
		convID, _ := undoData["conversation_id"].(string)
		delete(s.messages, id)
		ids := s.order[convID]
		for i, existing := range ids {
			if existing == id {
				s.order[convID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}

	case "restore_deleted_flag":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("chat: undo_data missing message_id")
		}
		wasDeleted, _ := undoData["was_deleted"].(bool)
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("chat: undo target message %q no longer exists", id)
		}
		msg.Deleted = wasDeleted

	default:
		return apierr.NewRuntimef("chat: unknown undo action %q", action)
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("chat: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("chat: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

// ValidateState checks that every conversation's ordered message ids
// resolve to a stored message actually filed under that conversation.
func (s *State) ValidateState() []string {
	var errs []string
	for convID, ids := range s.order {
		for _, id := range ids {
			msg, ok := s.messages[id]
			if !ok {
				errs = append(errs, fmt.Sprintf("chat: conversation %q references missing message %q", convID, id))
				continue
			}
			if msg.Conversation != convID {
				errs = append(errs, fmt.Sprintf("chat: message %q filed under conversation %q, belongs to %q", id, convID, msg.Conversation))
			}
		}
	}
	return errs
}

// Query returns a conversation's transcript, optionally including
// deleted messages when params["include_deleted"] is true.
func (s *State) Query(params map[string]any) (map[string]any, error) {
	convID, ok := params["conversation_id"].(string)
	if !ok {
		return s.Snapshot(), nil
	}
	includeDeleted, _ := params["include_deleted"].(bool)

	ids := s.order[convID]
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg := s.messages[id]
		if msg.Deleted && !includeDeleted {
			continue
		}
		messages = append(messages, msg)
	}
	return map[string]any{
		"modality_type":   string(modality.TypeChat),
		"conversation_id": convID,
		"messages":        messages,
	}, nil
}

// Snapshot returns every conversation's full message set.
func (s *State) Snapshot() map[string]any {
	conversations := make(map[string][]*Message, len(s.order))
	for convID, ids := range s.order {
		messages := make([]*Message, 0, len(ids))
		for _, id := range ids {
			messages = append(messages, s.messages[id])
		}
		conversations[convID] = messages
	}
	out := map[string]any{
		"modality_type": string(modality.TypeChat),
		"update_count":  s.updateCount,
		"conversations": conversations,
	}
	if !s.lastUpdated.IsZero() {
		out["last_updated"] = s.lastUpdated
	}
	return out
}
