package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Entities maps the hub entity IDs the controller reads and writes.
type Entities struct {
	SOC          string `json:"soc"`
	BatteryWatts string `json:"batteryWatts"`
	SolarWatts   string `json:"solarWatts"`
	GridWatts    string `json:"gridWatts"`
	LoadWatts    string `json:"loadWatts"`
	// BatteryMode is the select entity that receives charging actions.
	BatteryMode string `json:"batteryMode"`
}

// HomeAssistant implements System against the Home Assistant REST API.
// All calls go through a bounded-timeout client so a hung hub can never
// stall a tick past its deadline.
type HomeAssistant struct {
	client   *http.Client
	baseURL  string
	token    string
	entities Entities
}

// Configured sets up flags for the Home Assistant hub and returns the
// instance, populated once lflag.Do runs.
func Configured() *HomeAssistant {
	h := &HomeAssistant{}

	baseURL := lflag.String("hub-url", "http://homeassistant.local:8123", "Base URL of the Home Assistant instance")
	token := lflag.RequiredString("hub-token", "Long-lived access token for the Home Assistant API")
	timeout := lflag.Duration("hub-timeout", 15*time.Second, "Timeout for hub API calls")
	entities := Entities{
		SOC:          "sensor.battery_soc",
		BatteryWatts: "sensor.battery_power",
		SolarWatts:   "sensor.solar_power",
		GridWatts:    "sensor.grid_power",
		LoadWatts:    "sensor.load_power",
		BatteryMode:  "select.battery_mode",
	}
	lflag.JSON(&entities, "hub-entities", entities, "JSON map of hub entity IDs")

	lflag.Do(func() {
		h.baseURL = *baseURL
		h.token = *token
		h.entities = entities
		h.client = common.HTTPClient(*timeout)
		if err := h.Validate(); err != nil {
			panic(fmt.Sprintf("hub validation failed: %v", err))
		}
	})

	return h
}

// New returns a hub client with explicit settings, primarily for tests.
func New(baseURL, token string, entities Entities, timeout time.Duration) *HomeAssistant {
	return &HomeAssistant{
		client:   common.HTTPClient(timeout),
		baseURL:  baseURL,
		token:    token,
		entities: entities,
	}
}

// Validate ensures the configuration is usable.
func (h *HomeAssistant) Validate() error {
	if h.baseURL == "" {
		return fmt.Errorf("hub-url is required")
	}
	if _, err := url.Parse(h.baseURL); err != nil {
		return fmt.Errorf("failed to parse hub url (%s): %w", h.baseURL, err)
	}
	if h.token == "" {
		return fmt.Errorf("hub-token is required")
	}
	return nil
}

var _ System = (*HomeAssistant)(nil)

// haState is the shape of /api/states/<entity>.
type haState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

func (h *HomeAssistant) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf *bytes.Buffer
	if body != nil {
		buf = &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", types.ErrConnectivity, method, path, err)
	}
	return resp, nil
}

// Ping verifies the hub API answers at all.
func (h *HomeAssistant) Ping(ctx context.Context) error {
	resp, err := h.do(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping returned status %d", types.ErrConnectivity, resp.StatusCode)
	}
	return nil
}

// state fetches one entity state string.
func (h *HomeAssistant) state(ctx context.Context, entity string) (string, error) {
	resp, err := h.do(ctx, http.MethodGet, "/api/states/"+entity, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: entity %s", types.ErrDataUnavailable, entity)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: state %s returned status %d", types.ErrDataUnavailable, entity, resp.StatusCode)
	}
	var st haState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return "", fmt.Errorf("%w: failed to decode state for %s: %v", types.ErrDataUnavailable, entity, err)
	}
	return st.State, nil
}

// numericState fetches one entity state and parses it as a float. Home
// Assistant reports unavailable entities with the literal strings
// "unavailable" and "unknown".
func (h *HomeAssistant) numericState(ctx context.Context, entity string) (float64, error) {
	s, err := h.state(ctx, entity)
	if err != nil {
		return 0, err
	}
	if s == "unavailable" || s == "unknown" {
		return 0, fmt.Errorf("%w: entity %s is %s", types.ErrDataUnavailable, entity, s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: entity %s has non-numeric state %q", types.ErrDataUnavailable, entity, s)
	}
	return v, nil
}

// ReadTelemetry reads the full battery/solar/grid snapshot.
func (h *HomeAssistant) ReadTelemetry(ctx context.Context) (types.Telemetry, error) {
	now := time.Now()
	tel := types.Telemetry{Timestamp: now, Hour: now.Hour()}

	var err error
	if tel.SOC, err = h.numericState(ctx, h.entities.SOC); err != nil {
		return types.Telemetry{}, err
	}
	if tel.BatteryWatts, err = h.numericState(ctx, h.entities.BatteryWatts); err != nil {
		return types.Telemetry{}, err
	}
	if tel.SolarWatts, err = h.numericState(ctx, h.entities.SolarWatts); err != nil {
		return types.Telemetry{}, err
	}
	if tel.GridWatts, err = h.numericState(ctx, h.entities.GridWatts); err != nil {
		return types.Telemetry{}, err
	}
	if tel.LoadWatts, err = h.numericState(ctx, h.entities.LoadWatts); err != nil {
		return types.Telemetry{}, err
	}
	return tel, nil
}

// actionOptions maps battery actions onto the select entity's options.
var actionOptions = map[types.BatteryAction]string{
	types.ActionChargeFromGrid:  "charge_from_grid",
	types.ActionChargeFromSolar: "charge_from_solar",
	types.ActionDischarge:       "discharge",
	types.ActionIdle:            "idle",
}

// ApplyAction selects the matching option on the battery mode entity.
func (h *HomeAssistant) ApplyAction(ctx context.Context, action types.BatteryAction) error {
	option, ok := actionOptions[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", types.ErrActuationFailed, action)
	}
	body := map[string]string{
		"entity_id": h.entities.BatteryMode,
		"option":    option,
	}
	resp, err := h.do(ctx, http.MethodPost, "/api/services/select/select_option", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: select_option returned status %d", types.ErrActuationFailed, resp.StatusCode)
	}
	log.Ctx(ctx).DebugContext(ctx, "battery action applied",
		slog.String("action", string(action)),
		slog.String("entity", h.entities.BatteryMode),
	)
	return nil
}

// switchService calls switch.turn_on / switch.turn_off for an entity.
func (h *HomeAssistant) switchService(ctx context.Context, service, entity string) error {
	body := map[string]string{"entity_id": entity}
	resp, err := h.do(ctx, http.MethodPost, "/api/services/switch/"+service, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s for %s returned status %d", types.ErrActuationFailed, service, entity, resp.StatusCode)
	}
	return nil
}

// TurnOn switches a load entity on.
func (h *HomeAssistant) TurnOn(ctx context.Context, entity string) error {
	return h.switchService(ctx, "turn_on", entity)
}

// TurnOff switches a load entity off.
func (h *HomeAssistant) TurnOff(ctx context.Context, entity string) error {
	return h.switchService(ctx, "turn_off", entity)
}

// IsOn reports whether a load entity is currently on.
func (h *HomeAssistant) IsOn(ctx context.Context, entity string) (bool, error) {
	s, err := h.state(ctx, entity)
	if err != nil {
		return false, err
	}
	return s == "on", nil
}

// IsAvailable reports whether a load entity is reachable by the hub.
func (h *HomeAssistant) IsAvailable(ctx context.Context, entity string) (bool, error) {
	s, err := h.state(ctx, entity)
	if err != nil {
		return false, err
	}
	return s != "unavailable" && s != "unknown", nil
}
