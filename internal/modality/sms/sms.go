// Package sms implements the SMS modality: threads keyed by a
// normalized, sorted set of participant numbers, with read/unread,
// delete, and emoji reactions (spec §3.3).
package sms

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Message is a single SMS message within a thread.
type Message struct {
	ID        string            `json:"message_id"`
	ThreadKey string            `json:"thread_key"`
	From      string            `json:"from"`
	To        []string          `json:"to"`
	Body      string            `json:"body"`
	SentAt    time.Time         `json:"sent_at"`
	Read      bool              `json:"read"`
	Deleted   bool              `json:"deleted"`
	Reactions map[string]string `json:"reactions,omitempty"` // phone number -> emoji
}

// State is the SMS modality's in-memory model.
type State struct {
	messages    map[string]*Message
	threads     map[string][]string // thread_key -> message ids, oldest first
	updateCount int
	lastUpdated time.Time
}

// New creates an empty SMS State.
func New() *State {
	return &State{
		messages: make(map[string]*Message),
		threads:  make(map[string][]string),
	}
}

func (s *State) ModalityType() modality.Type { return modality.TypeSMS }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

// NormalizeNumber strips whitespace and punctuation other than a
// leading "+", giving deterministic thread keys without reaching for a
// telephony-grade normalization library.
func NormalizeNumber(n string) string {
	var b strings.Builder
	for i, r := range n {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ThreadKey computes the deterministic thread key for a set of
// participant numbers: normalize each, dedupe, sort, join with "|".
func ThreadKey(participants []string) string {
	seen := make(map[string]struct{}, len(participants))
	normalized := make([]string, 0, len(participants))
	for _, p := range participants {
		n := NormalizeNumber(p)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "|")
}

// Validate checks payload shape for the given action.
func (s *State) Validate(payload map[string]any) error {
	action, _ := payload["action"].(string)
	switch action {
	case "", "send_message", "receive_message":
		if _, ok := payload["from"].(string); !ok {
			return apierr.NewValidation("sms: from is required")
		}
		if _, ok := payload["body"].(string); !ok {
			return apierr.NewValidation("sms: body is required")
		}
		if _, ok := toStrings(payload["to"]); !ok {
			return apierr.NewValidation("sms: to must be a non-empty list of numbers")
		}
	case "read", "unread", "delete":
		if _, ok := payload["message_id"].(string); !ok {
			return apierr.NewValidationf("sms: message_id is required for %s", action)
		}
	case "react":
		if _, ok := payload["message_id"].(string); !ok {
			return apierr.NewValidation("sms: message_id is required for react")
		}
		if _, ok := payload["phone_number"].(string); !ok {
			return apierr.NewValidation("sms: phone_number is required for react")
		}
	default:
		return apierr.NewValidationf("sms: unsupported action %q", action)
	}
	return nil
}

func toStrings(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Apply applies a send/receive/read/unread/delete/react action.
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
	case "send_message", "receive_message":
		from := payload["from"].(string)
		to, _ := toStrings(payload["to"])
		threadKey := ThreadKey(append([]string{from}, to...))

		id := uuid.NewString()
		msg := &Message{
			ID:        id,
			ThreadKey: threadKey,
			From:      from,
			To:        to,
			Body:      payload["body"].(string),
			SentAt:    now,
		}
		s.messages[id] = msg
		s.threads[threadKey] = append(s.threads[threadKey], id)
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "remove_message",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"message_id":            id,
			"thread_key":            threadKey,
		}, nil

	case "read", "unread":
		id := payload["message_id"].(string)
		msg, ok := s.messages[id]
		if !ok {
			return nil, apierr.NewNotFoundf("sms: message %q not found", id)
		}
		prevRead := msg.Read
		msg.Read = action == "read"
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_read_flag",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"message_id":            id,
			"previous_read":         prevRead,
		}, nil

	case "delete":
		id := payload["message_id"].(string)
		msg, ok := s.messages[id]
		if !ok {
			return nil, apierr.NewNotFoundf("sms: message %q not found", id)
		}
		prevDeleted := msg.Deleted
		msg.Deleted = true
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_deleted_flag",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"message_id":            id,
			"previous_deleted":      prevDeleted,
		}, nil

	case "react":
		id := payload["message_id"].(string)
		phone := payload["phone_number"].(string)
		msg, ok := s.messages[id]
		if !ok {
			return nil, apierr.NewNotFoundf("sms: message %q not found", id)
		}
		var prevEmoji string
		hadReaction := false
		if msg.Reactions != nil {
			prevEmoji, hadReaction = msg.Reactions[phone]
		}
		emoji, _ := payload["emoji"].(string)
		if emoji == "" {
			if msg.Reactions != nil {
				delete(msg.Reactions, phone)
			}
		} else {
			if msg.Reactions == nil {
				msg.Reactions = make(map[string]string)
			}
			msg.Reactions[phone] = emoji
		}
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_reaction",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"message_id":            id,
			"phone_number":          phone,
			"had_reaction":          hadReaction,
			"previous_emoji":        prevEmoji,
		}, nil
	}

	return nil, apierr.NewValidationf("sms: unsupported action %q", action)
}

// ApplyUndo reverses any of send/read/delete/react.
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)

	switch action {
	case "remove_message":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("sms: undo_data missing message_id")
		}
		threadKey, _ := undoData["thread_key"].(string)
		delete(s.messages, id)
		ids := s.threads[threadKey]
		for i, existing := range ids {
			if existing == id {
				s.threads[threadKey] = append(ids[:i], ids[i+1:]...)
				break
			}
		}

	case "restore_read_flag":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("sms: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("sms: undo target message %q no longer exists", id)
		}
		prevRead, _ := undoData["previous_read"].(bool)
		msg.Read = prevRead

	case "restore_deleted_flag":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("sms: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("sms: undo target message %q no longer exists", id)
		}
		prevDeleted, _ := undoData["previous_deleted"].(bool)
		msg.Deleted = prevDeleted

	case "restore_reaction":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("sms: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("sms: undo target message %q no longer exists", id)
		}
		phone, _ := undoData["phone_number"].(string)
		hadReaction, _ := undoData["had_reaction"].(bool)
		if hadReaction {
			prevEmoji, _ := undoData["previous_emoji"].(string)
			if msg.Reactions == nil {
				msg.Reactions = make(map[string]string)
			}
			msg.Reactions[phone] = prevEmoji
		} else if msg.Reactions != nil {
			delete(msg.Reactions, phone)
		}

	default:
		return apierr.NewRuntimef("sms: unknown undo action %q", action)
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("sms: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("sms: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

// ValidateState checks that every thread's message ids resolve to a
// stored message whose recomputed thread key matches the thread it is
// filed under.
func (s *State) ValidateState() []string {
	var errs []string
	for threadKey, ids := range s.threads {
		for _, id := range ids {
			msg, ok := s.messages[id]
			if !ok {
				errs = append(errs, fmt.Sprintf("sms: thread %q references missing message %q", threadKey, id))
				continue
			}
			if got := ThreadKey(append([]string{msg.From}, msg.To...)); got != threadKey {
				errs = append(errs, fmt.Sprintf("sms: message %q filed under thread %q, recomputes to %q", id, threadKey, got))
			}
		}
	}
	return errs
}

// Query returns a thread's messages, keyed by a caller-supplied set of
// participant numbers, excluding deleted messages unless
// params["include_deleted"] is true.
func (s *State) Query(params map[string]any) (map[string]any, error) {
	participants, ok := toStrings(params["participants"])
	if !ok {
		return s.Snapshot(), nil
	}
	includeDeleted, _ := params["include_deleted"].(bool)
	threadKey := ThreadKey(participants)

	ids := s.threads[threadKey]
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg := s.messages[id]
		if msg.Deleted && !includeDeleted {
			continue
		}
		messages = append(messages, msg)
	}
	return map[string]any{
		"modality_type": string(modality.TypeSMS),
		"thread_key":    threadKey,
		"messages":      messages,
	}, nil
}

// Snapshot returns every thread's full message set.
func (s *State) Snapshot() map[string]any {
	threads := make(map[string][]*Message, len(s.threads))
	for key, ids := range s.threads {
		messages := make([]*Message, 0, len(ids))
		for _, id := range ids {
			messages = append(messages, s.messages[id])
		}
		threads[key] = messages
	}
	out := map[string]any{
		"modality_type": string(modality.TypeSMS),
		"update_count":  s.updateCount,
		"threads":       threads,
	}
	if !s.lastUpdated.IsZero() {
		out["last_updated"] = s.lastUpdated
	}
	return out
}
