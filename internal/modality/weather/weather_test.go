package weather

import (
	"context"
	"os"
	"testing"
	"time"
)

type fakeClient struct {
	report Report
	err    error
}

func (f *fakeClient) CurrentWeather(ctx context.Context, lat, lon float64, apiKey string) (Report, error) {
	return f.report, f.err
}

func TestApplySimulatedStoresReport(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{
		"latitude": 40.7128, "longitude": -74.0060,
		"condition": "clear", "temp_kelvin": 293.15,
	}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if s.UpdateCount() != 1 {
		t.Errorf("UpdateCount() = %d, want 1", s.UpdateCount())
	}

	out, err := s.Query(map[string]any{"latitude": 40.7128, "longitude": -74.0060, "units": "metric"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	temp := out["temp"].(float64)
	if temp < 19.9 || temp > 20.1 {
		t.Errorf("metric temp = %v, want ~20", temp)
	}
}

func TestQueryImperialConvertsWindSpeed(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Apply(map[string]any{
		"latitude": 1.0, "longitude": 1.0, "condition": "windy",
		"temp_kelvin": 273.15, "wind_speed_mps": 10.0,
	}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	out, err := s.Query(map[string]any{"latitude": 1.0, "longitude": 1.0, "units": "imperial"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	speed := out["wind_speed"].(float64)
	want := 10.0 * mpsToMph
	if speed < want-0.001 || speed > want+0.001 {
		t.Errorf("imperial wind_speed = %v, want %v", speed, want)
	}
	if out["temp"].(float64) != 32 {
		t.Errorf("imperial temp for 0C = %v, want 32", out["temp"])
	}
}

func TestApplyRealModeMissingKeyIsValidationError(t *testing.T) {
	os.Unsetenv("OPENWEATHER_API_KEY")
	s := New()
	_, err := s.Apply(map[string]any{"latitude": 1.0, "longitude": 1.0, "real": true}, time.Now())
	if err == nil {
		t.Fatal("Apply() real mode without API key expected error, got nil")
	}
}

func TestApplyRealModeUsesClientAndTagsSource(t *testing.T) {
	os.Setenv("OPENWEATHER_API_KEY", "test-key")
	defer os.Unsetenv("OPENWEATHER_API_KEY")

	fc := &fakeClient{report: Report{TempKelvin: 300, Condition: "sunny"}}
	s := New(WithClient(fc))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Apply(map[string]any{"latitude": 2.0, "longitude": 3.0, "real": true}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	out, err := s.Query(map[string]any{"latitude": 2.0, "longitude": 3.0})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if out["source"] != "real" {
		t.Errorf("source = %v, want real", out["source"])
	}
}

func TestQueryWithoutCoordinatesIsValidationError(t *testing.T) {
	s := New()
	_, err := s.Query(map[string]any{"units": "metric"})
	if err == nil {
		t.Fatal("Query() without lat/lon expected a validation error, got nil")
	}
}

func TestApplyUndoRemovesLocationWithoutPriorReport(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	undoData, err := s.Apply(map[string]any{"latitude": 5.0, "longitude": 5.0, "condition": "fog"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	if _, err := s.Query(map[string]any{"latitude": 5.0, "longitude": 5.0}); err == nil {
		t.Error("Query() after undo expected not-found error, got nil")
	}
}
