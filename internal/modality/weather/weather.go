// Package weather implements the weather modality: per-location reports
// keyed by a rounded lat/lon pair, with unit conversion on query and an
// optional "real" mode that fetches from OpenWeather (spec §3.6).
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/httpkit"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

const kelvinOffset = 273.15
const mpsToMph = 2.23694

// Source identifies how a Report was produced.
type Source string

const (
	SourceSimulated Source = "simulated"
	SourceReal      Source = "real"
)

// Report is a single weather reading for a location.
type Report struct {
	Latitude         float64   `json:"lat"`
	Longitude        float64   `json:"lon"`
	TempKelvin       float64   `json:"temp_kelvin"`
	Condition        string    `json:"condition"`
	HumidityPct      float64   `json:"humidity_pct"`
	WindSpeedMPS     float64   `json:"wind_speed_mps"`
	WindDirectionDeg float64   `json:"wind_direction_deg"`
	RecordedAt       time.Time `json:"recorded_at"`
	Source           Source    `json:"source"`
}

// Client is the minimal collaborator weather's "real" mode needs. The
// default implementation calls OpenWeather's current-weather endpoint;
// tests substitute a fake.
type Client interface {
	CurrentWeather(ctx context.Context, lat, lon float64, apiKey string) (Report, error)
}

// State is the weather modality's in-memory model, keyed by
// fmt.Sprintf("%.2f,%.2f", lat, lon) for roughly 1km grouping precision.
type State struct {
	reports     map[string]Report
	updateCount int
	lastUpdated time.Time
	client      Client
	apiKeyEnv   string
}

// Option configures a State at construction.
type Option func(*State)

// WithClient overrides the real-mode HTTP collaborator (for tests).
func WithClient(c Client) Option {
	return func(s *State) { s.client = c }
}

// New creates an empty weather State. The real-mode collaborator
// defaults to httpClient, reading OPENWEATHER_API_KEY from the
// environment at call time.
func New(opts ...Option) *State {
	s := &State{
		reports:   make(map[string]Report),
		apiKeyEnv: "OPENWEATHER_API_KEY",
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		s.client = &httpClient{hc: httpkit.NewClient(httpkit.WithTimeout(httpkit.DefaultWeatherClientTimeout))}
	}
	return s
}

func key(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", lat, lon)
}

func (s *State) ModalityType() modality.Type { return modality.TypeWeather }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

// Validate checks payload shape without applying it.
func (s *State) Validate(payload map[string]any) error {
	if _, ok := payload["latitude"].(float64); !ok {
		return apierr.NewValidation("weather: latitude is required and must be a number")
	}
	if _, ok := payload["longitude"].(float64); !ok {
		return apierr.NewValidation("weather: longitude is required and must be a number")
	}
	real, _ := payload["real"].(bool)
	if !real {
		if _, ok := payload["condition"].(string); !ok {
			return apierr.NewValidation("weather: condition is required for a simulated update")
		}
	}
	return nil
}

// Apply records a new weather report for a location. With payload
// "real": true, it fetches from OpenWeather instead of using the
// caller-supplied fields; this is the only outbound network call any
// modality makes.
func (s *State) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	if err := s.Validate(payload); err != nil {
		return nil, err
	}

	lat := payload["latitude"].(float64)
	lon := payload["longitude"].(float64)
	k := key(lat, lon)

	prevCount, prevUpdated := s.updateCount, s.lastUpdated
	prevReport, hadPrev := s.reports[k]

	real, _ := payload["real"].(bool)
	var report Report
	if real {
		apiKey := os.Getenv(s.apiKeyEnv)
		if apiKey == "" {
			return nil, apierr.NewValidation("weather: real mode requires OPENWEATHER_API_KEY to be set")
		}
		fetched, err := s.client.CurrentWeather(context.Background(), lat, lon, apiKey)
		if err != nil {
			return nil, apierr.NewExternal("weather: OpenWeather request failed", err)
		}
		report = fetched
		report.Latitude, report.Longitude = lat, lon
		report.RecordedAt = now
		report.Source = SourceReal
	} else {
		report = Report{
			Latitude:   lat,
			Longitude:  lon,
			Condition:  payload["condition"].(string),
			RecordedAt: now,
			Source:     SourceSimulated,
		}
		if v, ok := payload["temp_kelvin"].(float64); ok {
			report.TempKelvin = v
		}
		if v, ok := payload["humidity_pct"].(float64); ok {
			report.HumidityPct = v
		}
		if v, ok := payload["wind_speed_mps"].(float64); ok {
			report.WindSpeedMPS = v
		}
		if v, ok := payload["wind_direction_deg"].(float64); ok {
			report.WindDirectionDeg = v
		}
	}

	s.reports[k] = report
	s.updateCount++
	s.lastUpdated = now

	undoData := map[string]any{
		undo.KeyAction:          "restore_previous_report",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"location_key":          k,
		"had_previous_report":   hadPrev,
	}
	if hadPrev {
		undoData["previous_report"] = prevReport
	}
	return undoData, nil
}

// ApplyUndo restores the previous report for a location, or removes the
// location entirely if it had none.
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)
	if action != "restore_previous_report" {
		return apierr.NewRuntimef("weather: unknown undo action %q", action)
	}
	k, ok := undoData["location_key"].(string)
	if !ok {
		return apierr.NewRuntime("weather: undo_data missing location_key")
	}
	hadPrev, _ := undoData["had_previous_report"].(bool)
	if hadPrev {
		prev, ok := undoData["previous_report"].(Report)
		if !ok {
			return apierr.NewRuntime("weather: undo_data missing previous_report")
		}
		s.reports[k] = prev
	} else {
		delete(s.reports, k)
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("weather: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("weather: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

// Query returns the report for a location converted to the requested
// unit system ("standard" default, "metric", or "imperial").
func (s *State) Query(params map[string]any) (map[string]any, error) {
	lat, latOK := params["latitude"].(float64)
	lon, lonOK := params["longitude"].(float64)
	if !latOK || !lonOK {
		return nil, apierr.NewValidation("weather: latitude and longitude are required")
	}

	report, ok := s.reports[key(lat, lon)]
	if !ok {
		return nil, apierr.NewNotFoundf("weather: no report recorded for %s", key(lat, lon))
	}

	units, _ := params["units"].(string)
	if units == "" {
		units = "standard"
	}
	return convert(report, units)
}

func convert(r Report, units string) (map[string]any, error) {
	out := map[string]any{
		"lat":                r.Latitude,
		"lon":                r.Longitude,
		"condition":          r.Condition,
		"humidity_pct":       r.HumidityPct,
		"wind_direction_deg": r.WindDirectionDeg,
		"recorded_at":        r.RecordedAt,
		"source":             string(r.Source),
	}
	switch units {
	case "standard":
		out["temp"] = r.TempKelvin
		out["temp_units"] = "kelvin"
		out["wind_speed"] = r.WindSpeedMPS
		out["wind_speed_units"] = "m/s"
	case "metric":
		out["temp"] = r.TempKelvin - kelvinOffset
		out["temp_units"] = "celsius"
		out["wind_speed"] = r.WindSpeedMPS
		out["wind_speed_units"] = "m/s"
	case "imperial":
		out["temp"] = (r.TempKelvin-kelvinOffset)*9/5 + 32
		out["temp_units"] = "fahrenheit"
		out["wind_speed"] = r.WindSpeedMPS * mpsToMph
		out["wind_speed_units"] = "mph"
	default:
		return nil, apierr.NewValidationf("weather: unknown units %q", units)
	}
	return out, nil
}

// ValidateState checks that every stored report is filed under its own
// recomputed location key.
func (s *State) ValidateState() []string {
	var errs []string
	for k, r := range s.reports {
		if got := key(r.Latitude, r.Longitude); got != k {
			errs = append(errs, fmt.Sprintf("weather: report filed under %q, recomputes to %q", k, got))
		}
	}
	return errs
}

// Snapshot returns every stored report, keyed by location.
func (s *State) Snapshot() map[string]any {
	reports := make(map[string]Report, len(s.reports))
	for k, r := range s.reports {
		reports[k] = r
	}
	out := map[string]any{
		"modality_type": string(modality.TypeWeather),
		"update_count":  s.updateCount,
		"reports":       reports,
	}
	if !s.lastUpdated.IsZero() {
		out["last_updated"] = s.lastUpdated
	}
	return out
}

// httpClient is the default Client, calling OpenWeather's current
// weather endpoint over the shared httpkit transport.
type httpClient struct {
	hc      *http.Client
	baseURL string
}

const defaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

func (c *httpClient) CurrentWeather(ctx context.Context, lat, lon float64, apiKey string) (Report, error) {
	base := c.baseURL
	if base == "" {
		base = defaultBaseURL
	}
	url := fmt.Sprintf("%s?lat=%f&lon=%f&appid=%s", base, lat, lon, apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Report{}, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Report{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Report{}, fmt.Errorf("openweather: unexpected status %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var body struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("openweather: decode response: %w", err)
	}

	condition := "unknown"
	if len(body.Weather) > 0 {
		condition = body.Weather[0].Main
	}
	return Report{
		TempKelvin:       body.Main.Temp,
		Condition:        condition,
		HumidityPct:      body.Main.Humidity,
		WindSpeedMPS:     body.Wind.Speed,
		WindDirectionDeg: body.Wind.Deg,
	}, nil
}
