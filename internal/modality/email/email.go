// Package email implements the email modality: folders of real RFC
// 5322 messages with IMAP-style flags, built via emersion/go-message's
// mail writer (spec §3.2, grounded on the teacher's internal/email
// compose/mark/move code).
package email

import (
	"fmt"
	"sort"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/google/uuid"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Folder names the standard mailboxes; move to any other name creates
// a custom folder implicitly.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderDrafts  = "drafts"
	FolderTrash   = "trash"
	FolderArchive = "archive"
	FolderSpam    = "spam"
)

// Message is a single stored email.
type Message struct {
	ID         string      `json:"message_id"`
	Folder     string      `json:"folder"`
	From       string      `json:"from"`
	To         []string    `json:"to"`
	Cc         []string    `json:"cc,omitempty"`
	Subject    string      `json:"subject"`
	Raw        []byte      `json:"-"`
	Flags      []imap.Flag `json:"-"`
	Labels     []string    `json:"labels,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// IsRead, IsStarred, and IsDeleted project the IMAP flag set onto the
// booleans the spec's data model names, so query/snapshot output keeps
// its documented shape while internal tracking matches a real
// protocol's flag vocabulary.
func (m *Message) IsRead() bool    { return hasFlag(m.Flags, imap.FlagSeen) }
func (m *Message) IsStarred() bool { return hasFlag(m.Flags, imap.FlagFlagged) }
func (m *Message) IsDeleted() bool { return hasFlag(m.Flags, imap.FlagDeleted) }

func hasFlag(flags []imap.Flag, target imap.Flag) bool {
	for _, f := range flags {
		if f == target {
			return true
		}
	}
	return false
}

func withFlag(flags []imap.Flag, target imap.Flag, set bool) []imap.Flag {
	if set {
		if hasFlag(flags, target) {
			return flags
		}
		return append(append([]imap.Flag{}, flags...), target)
	}
	out := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		if f != target {
			out = append(out, f)
		}
	}
	return out
}

// State is the email modality's in-memory model.
type State struct {
	messages    map[string]*Message
	updateCount int
	lastUpdated time.Time
}

// New creates an empty email State.
func New() *State {
	return &State{messages: make(map[string]*Message)}
}

func (s *State) ModalityType() modality.Type { return modality.TypeEmail }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

var mutatingActions = map[string]bool{
	"send": true, "receive": true, "read": true, "unread": true,
	"star": true, "unstar": true, "archive": true, "delete": true,
	"move": true, "label": true, "unlabel": true,
}

// Validate checks payload shape for the given action.
func (s *State) Validate(payload map[string]any) error {
	action, _ := payload["action"].(string)
	if action == "" {
		action = "send"
	}
	if !mutatingActions[action] {
		return apierr.NewValidationf("email: unsupported action %q", action)
	}
	switch action {
	case "send", "receive":
		if _, ok := payload["from"].(string); !ok {
			return apierr.NewValidation("email: from is required")
		}
		if _, ok := payload["subject"].(string); !ok {
			return apierr.NewValidation("email: subject is required")
		}
		if _, ok := payload["body"].(string); !ok {
			return apierr.NewValidation("email: body is required")
		}
		if _, ok := stringSlice(payload["to"]); !ok {
			return apierr.NewValidation("email: to must be a non-empty list of addresses")
		}
	case "move":
		if _, ok := payload["message_id"].(string); !ok {
			return apierr.NewValidation("email: message_id is required for move")
		}
		if _, ok := payload["folder"].(string); !ok {
			return apierr.NewValidation("email: folder is required for move")
		}
	default:
		if _, ok := payload["message_id"].(string); !ok {
			return apierr.NewValidationf("email: message_id is required for %s", action)
		}
	}
	return nil
}

func stringSlice(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, str)
	}
	return out, true
}

// Apply applies a send/receive/read/unread/star/unstar/archive/delete/
// move/label/unlabel action.
func (s *State) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	if err := s.Validate(payload); err != nil {
		return nil, err
	}
	action, _ := payload["action"].(string)
	if action == "" {
		action = "send"
	}

	prevCount, prevUpdated := s.updateCount, s.lastUpdated

	switch action {
	case "send", "receive":
		return s.applySendOrReceive(payload, action, now, prevCount, prevUpdated)
	case "read":
		return s.applyFlagToggle(payload, imap.FlagSeen, true, now, prevCount, prevUpdated)
	case "unread":
		return s.applyFlagToggle(payload, imap.FlagSeen, false, now, prevCount, prevUpdated)
	case "star":
		return s.applyFlagToggle(payload, imap.FlagFlagged, true, now, prevCount, prevUpdated)
	case "unstar":
		return s.applyFlagToggle(payload, imap.FlagFlagged, false, now, prevCount, prevUpdated)
	case "delete":
		return s.applyDelete(payload, now, prevCount, prevUpdated)
	case "archive":
		return s.applyMove(payload, FolderArchive, now, prevCount, prevUpdated)
	case "move":
		folder := payload["folder"].(string)
		return s.applyMove(payload, folder, now, prevCount, prevUpdated)
	case "label":
		return s.applyLabel(payload, true, now, prevCount, prevUpdated)
	case "unlabel":
		return s.applyLabel(payload, false, now, prevCount, prevUpdated)
	}
	return nil, apierr.NewValidationf("email: unsupported action %q", action)
}

func (s *State) applySendOrReceive(payload map[string]any, action string, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	to, _ := stringSlice(payload["to"])
	var cc []string
	if v, ok := stringSlice(payload["cc"]); ok {
		cc = v
	}

	raw, err := ComposeMessage(ComposeOptions{
		From:    payload["from"].(string),
		To:      to,
		Cc:      cc,
		Subject: payload["subject"].(string),
		Body:    payload["body"].(string),
	}, now)
	if err != nil {
		return nil, apierr.NewRuntimef("email: compose message: %v", err)
	}

	folder := FolderSent
	if action == "receive" {
		folder = FolderInbox
	}

	msg := &Message{
		ID:         uuid.NewString(),
		Folder:     folder,
		From:       payload["from"].(string),
		To:         to,
		Cc:         cc,
		Subject:    payload["subject"].(string),
		Raw:        raw,
		ReceivedAt: now,
	}
	s.messages[msg.ID] = msg
	s.updateCount++
	s.lastUpdated = now

	return map[string]any{
		undo.KeyAction:          "remove_message",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"message_id":            msg.ID,
	}, nil
}

func (s *State) applyFlagToggle(payload map[string]any, flag imap.Flag, set bool, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	id := payload["message_id"].(string)
	msg, ok := s.messages[id]
	if !ok {
		return nil, apierr.NewNotFoundf("email: message %q not found", id)
	}
	previousFlags := append([]imap.Flag{}, msg.Flags...)
	msg.Flags = withFlag(msg.Flags, flag, set)
	s.updateCount++
	s.lastUpdated = now
	return map[string]any{
		undo.KeyAction:          "restore_flags",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"message_id":            id,
		"previous_flags":        previousFlags,
	}, nil
}

func (s *State) applyDelete(payload map[string]any, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	id := payload["message_id"].(string)
	msg, ok := s.messages[id]
	if !ok {
		return nil, apierr.NewNotFoundf("email: message %q not found", id)
	}
	previousFolder := msg.Folder
	previousFlags := append([]imap.Flag{}, msg.Flags...)
	msg.Folder = FolderTrash
	msg.Flags = withFlag(msg.Flags, imap.FlagDeleted, true)
	s.updateCount++
	s.lastUpdated = now
	return map[string]any{
		undo.KeyAction:          "restore_folder_and_flags",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"message_id":            id,
		"previous_folder":       previousFolder,
		"previous_flags":        previousFlags,
	}, nil
}

func (s *State) applyMove(payload map[string]any, folder string, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	id := payload["message_id"].(string)
	msg, ok := s.messages[id]
	if !ok {
		return nil, apierr.NewNotFoundf("email: message %q not found", id)
	}
	previousFolder := msg.Folder
	msg.Folder = folder
	s.updateCount++
	s.lastUpdated = now
	return map[string]any{
		undo.KeyAction:          "restore_folder",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"message_id":            id,
		"previous_folder":       previousFolder,
	}, nil
}

func (s *State) applyLabel(payload map[string]any, add bool, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	id := payload["message_id"].(string)
	label, _ := payload["label"].(string)
	if label == "" {
		return nil, apierr.NewValidation("email: label is required")
	}
	msg, ok := s.messages[id]
	if !ok {
		return nil, apierr.NewNotFoundf("email: message %q not found", id)
	}
	previousLabels := append([]string{}, msg.Labels...)

	if add {
		found := false
		for _, l := range msg.Labels {
			if l == label {
				found = true
				break
			}
		}
		if !found {
			msg.Labels = append(msg.Labels, label)
		}
	} else {
		out := msg.Labels[:0:0]
		for _, l := range msg.Labels {
			if l != label {
				out = append(out, l)
			}
		}
		msg.Labels = out
	}
	s.updateCount++
	s.lastUpdated = now
	return map[string]any{
		undo.KeyAction:          "restore_labels",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"message_id":            id,
		"previous_labels":       previousLabels,
	}, nil
}

// ApplyUndo reverses any of the mutating actions.
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)

	switch action {
	case "remove_message":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("email: undo_data missing message_id")
		}
		delete(s.messages, id)

	case "restore_flags":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("email: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("email: undo target message %q no longer exists", id)
		}
		flags, _ := undoData["previous_flags"].([]imap.Flag)
		msg.Flags = flags

	case "restore_folder_and_flags":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("email: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("email: undo target message %q no longer exists", id)
		}
		folder, _ := undoData["previous_folder"].(string)
		flags, _ := undoData["previous_flags"].([]imap.Flag)
		msg.Folder = folder
		msg.Flags = flags

	case "restore_folder":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("email: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("email: undo target message %q no longer exists", id)
		}
		folder, _ := undoData["previous_folder"].(string)
		msg.Folder = folder

	case "restore_labels":
		id, ok := undoData["message_id"].(string)
		if !ok {
			return apierr.NewRuntime("email: undo_data missing message_id")
		}
		msg, ok := s.messages[id]
		if !ok {
			return apierr.NewRuntimef("email: undo target message %q no longer exists", id)
		}
		labels, _ := undoData["previous_labels"].([]string)
		msg.Labels = labels

	default:
		return apierr.NewRuntimef("email: unknown undo action %q", action)
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("email: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("email: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

// ValidateState checks that every stored message is keyed by its own
// message_id and has a non-empty folder.
func (s *State) ValidateState() []string {
	var errs []string
	for id, msg := range s.messages {
		if msg.ID != id {
			errs = append(errs, fmt.Sprintf("email: message stored under key %q has id %q", id, msg.ID))
		}
		if msg.Folder == "" {
			errs = append(errs, fmt.Sprintf("email: message %q has no folder", id))
		}
	}
	return errs
}

// Query returns messages in a folder (default inbox), newest first.
func (s *State) Query(params map[string]any) (map[string]any, error) {
	folder, _ := params["folder"].(string)
	if folder == "" {
		folder = FolderInbox
	}

	var messages []*Message
	for _, m := range s.messages {
		if m.Folder == folder {
			messages = append(messages, m)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
	})
	return map[string]any{
		"modality_type": string(modality.TypeEmail),
		"folder":        folder,
		"messages":      projectMessages(messages),
	}, nil
}

// Snapshot returns every message across every folder.
func (s *State) Snapshot() map[string]any {
	messages := make([]*Message, 0, len(s.messages))
	for _, m := range s.messages {
		messages = append(messages, m)
	}
	out := map[string]any{
		"modality_type": string(modality.TypeEmail),
		"update_count":  s.updateCount,
		"messages":      projectMessages(messages),
	}
	if !s.lastUpdated.IsZero() {
		out["last_updated"] = s.lastUpdated
	}
	return out
}

// projectMessages renders each Message into the spec's documented
// is_read/is_starred/is_deleted boolean shape.
func projectMessages(messages []*Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"message_id":  m.ID,
			"folder":      m.Folder,
			"from":        m.From,
			"to":          m.To,
			"cc":          m.Cc,
			"subject":     m.Subject,
			"labels":      m.Labels,
			"received_at": m.ReceivedAt,
			"is_read":     m.IsRead(),
			"is_starred":  m.IsStarred(),
			"is_deleted":  m.IsDeleted(),
			"raw":         string(m.Raw),
		})
	}
	return out
}
