package modality

import (
	"time"

	"testing"
)

type fakeState struct {
	typ         Type
	updateCount int
	lastUpdated time.Time
}

func (f *fakeState) ModalityType() Type       { return f.typ }
func (f *fakeState) UpdateCount() int         { return f.updateCount }
func (f *fakeState) LastUpdated() time.Time   { return f.lastUpdated }
func (f *fakeState) Validate(map[string]any) error { return nil }

func (f *fakeState) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	prevCount, prevUpdated := f.updateCount, f.lastUpdated
	f.updateCount++
	f.lastUpdated = now
	return map[string]any{
		"action":                        "noop",
		"state_previous_update_count":   prevCount,
		"state_previous_last_updated":   prevUpdated,
	}, nil
}

func (f *fakeState) ApplyUndo(undoData map[string]any) error {
	f.updateCount = undoData["state_previous_update_count"].(int)
	f.lastUpdated = undoData["state_previous_last_updated"].(time.Time)
	return nil
}

func (f *fakeState) Query(map[string]any) (map[string]any, error) {
	return map[string]any{"modality_type": string(f.typ)}, nil
}

func (f *fakeState) Snapshot() map[string]any {
	return map[string]any{"modality_type": string(f.typ), "update_count": f.updateCount}
}

func (f *fakeState) ValidateState() []string { return nil }

func TestRegistryGetFound(t *testing.T) {
	r := NewRegistry(&fakeState{typ: TypeLocation})
	s, err := r.Get("location")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.ModalityType() != TypeLocation {
		t.Errorf("Get().ModalityType() = %q, want location", s.ModalityType())
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nonexistent"); err == nil {
		t.Fatal("Get() of unregistered modality expected error, got nil")
	}
}

func TestRegistryNamesStableOrder(t *testing.T) {
	r := NewRegistry(
		&fakeState{typ: TypeWeather},
		&fakeState{typ: TypeEmail},
		&fakeState{typ: TypeSMS},
	)
	got := r.Names()
	want := []string{"email", "sms", "weather"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSnapshotAllIncludesEveryRegistered(t *testing.T) {
	r := NewRegistry(&fakeState{typ: TypeChat}, &fakeState{typ: TypeCalendar})
	snap := r.SnapshotAll()
	if len(snap) != 2 {
		t.Fatalf("SnapshotAll() returned %d entries, want 2", len(snap))
	}
	if _, ok := snap["chat"]; !ok {
		t.Error("SnapshotAll() missing chat entry")
	}
	if _, ok := snap["calendar"]; !ok {
		t.Error("SnapshotAll() missing calendar entry")
	}
}
