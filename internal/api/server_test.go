package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/silverlink-av/avgate-core/internal/breaker"
	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/conn"
	"github.com/silverlink-av/avgate-core/internal/device"
	"github.com/silverlink-av/avgate-core/internal/gateway"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/config"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/logging"
	"github.com/silverlink-av/avgate-core/internal/ircode"
	"github.com/silverlink-av/avgate-core/internal/queue"
	"github.com/silverlink-av/avgate-core/internal/telemetry"
)

// =============================================================================
// Test Fakes
// =============================================================================

// fakeGateway implements CommandGateway for handler tests.
type fakeGateway struct {
	mu      sync.Mutex
	lastCmd *codec.Command
	execErr error
	result  *codec.Result
	devices []device.Device
	hub     *telemetry.Hub
}

func (f *fakeGateway) Execute(_ context.Context, cmd *codec.Command) (*codec.Result, error) {
	f.mu.Lock()
	f.lastCmd = cmd
	f.mu.Unlock()

	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &codec.Result{
		DeviceID:      cmd.DeviceID,
		CorrelationID: cmd.CorrelationID,
		OK:            true,
		Raw:           "OK",
	}, nil
}

func (f *fakeGateway) Device(id string) (device.Device, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return device.Device{}, fmt.Errorf("%w: %s", device.ErrNotFound, id)
}

func (f *fakeGateway) Devices() []device.Device {
	return f.devices
}

func (f *fakeGateway) Health() gateway.Health {
	h := gateway.Health{
		SiteID:    "site-test",
		Timestamp: time.Now().UTC(),
	}
	for _, d := range f.devices {
		h.Devices = append(h.Devices, gateway.DeviceHealth{
			ID:        d.ID,
			Name:      d.Name,
			Transport: d.Transport,
			Dialect:   d.Dialect,
			State:     device.StateUnknown,
			ConnState: conn.StateIdle,
			Breaker:   breaker.Stats{State: breaker.StateClosed},
			Queue:     queue.Stats{},
		})
	}
	return h
}

func (f *fakeGateway) SubscribeTelemetry(deviceID string) (*telemetry.Subscription, error) {
	if f.hub == nil {
		return nil, fmt.Errorf("%w: %s", telemetry.ErrNoTelemetry, deviceID)
	}
	return f.hub.Subscribe(deviceID)
}

func (f *fakeGateway) command() *codec.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCmd
}

// fakeStore is an in-memory ircode.Store mirroring the SQLite store's
// validation and uniqueness behaviour.
type fakeStore struct {
	mu    sync.Mutex
	codes map[string]ircode.Code
	seq   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{codes: make(map[string]ircode.Code)}
}

func (f *fakeStore) validate(code ircode.Code) error {
	if code.DeviceID == "" || code.Function == "" || code.Code == "" {
		return fmt.Errorf("%w: device_id, function and code are required", ircode.ErrInvalid)
	}
	return codec.ValidateSendIR(code.Code)
}

func (f *fakeStore) Create(_ context.Context, code ircode.Code) (ircode.Code, error) {
	if err := f.validate(code); err != nil {
		return ircode.Code{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.codes {
		if existing.DeviceID == code.DeviceID && existing.Function == code.Function {
			return ircode.Code{}, fmt.Errorf("%w: %s/%s", ircode.ErrExists, code.DeviceID, code.Function)
		}
	}
	f.seq++
	code.ID = fmt.Sprintf("code-%d", f.seq)
	code.CreatedAt = time.Now().UTC()
	code.UpdatedAt = code.CreatedAt
	f.codes[code.ID] = code
	return code, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (ircode.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[id]
	if !ok {
		return ircode.Code{}, fmt.Errorf("%w: %s", ircode.ErrNotFound, id)
	}
	return code, nil
}

func (f *fakeStore) GetByFunction(_ context.Context, deviceID, function string) (ircode.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range f.codes {
		if code.DeviceID == deviceID && code.Function == function {
			return code, nil
		}
	}
	return ircode.Code{}, fmt.Errorf("%w: %s/%s", ircode.ErrNotFound, deviceID, function)
}

func (f *fakeStore) List(_ context.Context, deviceID string) ([]ircode.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ircode.Code
	for _, code := range f.codes {
		if deviceID == "" || code.DeviceID == deviceID {
			out = append(out, code)
		}
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, code ircode.Code) (ircode.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.codes[code.ID]
	if !ok {
		return ircode.Code{}, fmt.Errorf("%w: %s", ircode.ErrNotFound, code.ID)
	}
	current.Code = code.Code
	current.Description = code.Description
	if err := f.validate(current); err != nil {
		return ircode.Code{}, err
	}
	current.UpdatedAt = time.Now().UTC()
	f.codes[code.ID] = current
	return current, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.codes[id]; !ok {
		return fmt.Errorf("%w: %s", ircode.ErrNotFound, id)
	}
	delete(f.codes, id)
	return nil
}

// =============================================================================
// Test Helpers
// =============================================================================

const validSendIR = "sendir,1:1,1,38000,1,1,342,171,21,21,21,64"

func testDevices() []device.Device {
	return []device.Device{
		{
			ID:        "matrix-rack",
			Name:      "Main Rack Matrix",
			Transport: device.TransportTCP,
			Address:   "10.0.40.21",
			Port:      5000,
			Dialect:   codec.DialectTextMatrix,
		},
		{
			ID:            "dsp-main-bar",
			Name:          "Main Bar DSP",
			Transport:     device.TransportTCP,
			Address:       "10.0.40.11",
			Port:          10007,
			Dialect:       codec.DialectJSONRPC,
			TelemetryPort: 3804,
		},
	}
}

// newTestServer builds a server plus its router for direct handler
// dispatch via httptest.
func newTestServer(t *testing.T, gw CommandGateway, codes ircode.Store) (*Server, http.Handler) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	cfg := config.Default()

	s, err := New(Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Gateway: gw,
		Codes:   codes,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, s.buildRouter()
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Deps{Gateway: &fakeGateway{}})
	if err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestNewRequiresGateway(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	_, err := New(Deps{Logger: log})
	if err == nil {
		t.Error("New() without gateway should fail")
	}
}

// =============================================================================
// Health and Device Tests
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Status  string         `json:"status"`
		Version string         `json:"version"`
		Gateway gateway.Health `json:"gateway"`
	}
	decodeBody(t, rec, &resp)

	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if len(resp.Gateway.Devices) != 2 {
		t.Errorf("gateway devices = %d, want 2", len(resp.Gateway.Devices))
	}
}

func TestListDevices(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Devices []gateway.DeviceHealth `json:"devices"`
		Count   int                    `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 || len(resp.Devices) != 2 {
		t.Errorf("count = %d, devices = %d, want 2", resp.Count, len(resp.Devices))
	}
}

func TestGetDevice(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices/matrix-rack", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Device device.Device         `json:"device"`
		Health *gateway.DeviceHealth `json:"health"`
	}
	decodeBody(t, rec, &resp)
	if resp.Device.ID != "matrix-rack" {
		t.Errorf("device ID = %q", resp.Device.ID)
	}
	if resp.Health == nil || resp.Health.ID != "matrix-rack" {
		t.Error("health missing or mismatched")
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices/no-such-device", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	var apiErr Error
	decodeBody(t, rec, &apiErr)
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
}

// =============================================================================
// Command Execution Tests
// =============================================================================

func TestExecuteCommand(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	body := map[string]any{
		"payload":    map[string]any{"input": 1, "outputs": []int{2}},
		"timeout_ms": 1500,
		"idempotent": true,
	}
	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/matrix-rack/commands", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result codec.Result
	decodeBody(t, rec, &result)
	if !result.OK {
		t.Error("result OK = false")
	}
	if result.CorrelationID == "" {
		t.Error("correlation ID not generated")
	}

	cmd := gw.command()
	if cmd == nil {
		t.Fatal("gateway never saw the command")
	}
	if cmd.DeviceID != "matrix-rack" {
		t.Errorf("command DeviceID = %q", cmd.DeviceID)
	}
	if cmd.Timeout != 1500*time.Millisecond {
		t.Errorf("command Timeout = %v, want 1.5s", cmd.Timeout)
	}
	if !cmd.Idempotent {
		t.Error("command not marked idempotent")
	}
}

func TestExecuteCommandKeepsCorrelationID(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	body := map[string]any{
		"payload":        map[string]any{"input": 1, "outputs": []int{2}},
		"correlation_id": "caller-supplied-7",
	}
	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/matrix-rack/commands", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cmd := gw.command(); cmd.CorrelationID != "caller-supplied-7" {
		t.Errorf("CorrelationID = %q, want caller-supplied-7", cmd.CorrelationID)
	}
}

func TestExecuteCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing payload", map[string]any{"timeout_ms": 100}},
		{"negative timeout", map[string]any{"payload": map[string]any{}, "timeout_ms": -1}},
		{"retries too high", map[string]any{"payload": map[string]any{}, "max_retries": 6}},
		{"negative retries", map[string]any{"payload": map[string]any{}, "max_retries": -1}},
	}

	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/matrix-rack/commands", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestExecuteCommandMalformedBody(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/matrix-rack/commands",
		strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown device", fmt.Errorf("%w: ghost", device.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"queue full", queue.ErrQueueFull, http.StatusTooManyRequests, ErrCodeQueueFull},
		{"circuit open", breaker.ErrOpen, http.StatusServiceUnavailable, ErrCodeCircuitOpen},
		{"gateway closed", gateway.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"exchange timeout", fmt.Errorf("%w: read", conn.ErrTimeout), http.StatusGatewayTimeout, ErrCodeDeviceTimeout},
		{"io failure", fmt.Errorf("%w: connection reset", conn.ErrIO), http.StatusBadGateway, ErrCodeDeviceError},
		{"protocol error", fmt.Errorf("%w: bad frame", codec.ErrProtocol), http.StatusBadGateway, ErrCodeDeviceError},
		{"invalid payload", fmt.Errorf("%w: input required", codec.ErrInvalidPayload), http.StatusBadRequest, ErrCodeBadRequest},
		{"client cancelled", context.Canceled, http.StatusGatewayTimeout, ErrCodeDeviceTimeout},
	}

	body := map[string]any{"payload": map[string]any{"input": 1}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{devices: testDevices(), execErr: tt.err}
			_, router := newTestServer(t, gw, nil)

			rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/matrix-rack/commands", body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			var apiErr Error
			decodeBody(t, rec, &apiErr)
			if apiErr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestExecuteCommandDeviceRejection(t *testing.T) {
	// A device saying "no" is a successful exchange: HTTP 200, ok=false.
	gw := &fakeGateway{
		devices: testDevices(),
		result: &codec.Result{
			DeviceID:      "matrix-rack",
			CorrelationID: "x",
			OK:            false,
			Detail:        "input out of range",
		},
	}
	_, router := newTestServer(t, gw, nil)

	body := map[string]any{"payload": map[string]any{"input": 99}}
	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/matrix-rack/commands", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result codec.Result
	decodeBody(t, rec, &result)
	if result.OK {
		t.Error("result OK = true, want device rejection preserved")
	}
	if result.Detail != "input out of range" {
		t.Errorf("detail = %q", result.Detail)
	}
}

// =============================================================================
// IR Code Library Tests
// =============================================================================

func TestIRCodesDisabledWithoutStore(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/ircodes", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when library disabled", rec.Code)
	}
}

func TestIRCodeCRUD(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	store := newFakeStore()
	_, router := newTestServer(t, gw, store)

	// Create
	rec := doRequest(t, router, http.MethodPost, "/api/v1/ircodes", ircode.Code{
		DeviceID: "tv-lounge",
		Function: "power_on",
		Code:     validSendIR,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created ircode.Code
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("created code has no ID")
	}

	// Get
	rec = doRequest(t, router, http.MethodGet, "/api/v1/ircodes/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// List
	rec = doRequest(t, router, http.MethodGet, "/api/v1/ircodes?device_id=tv-lounge", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp struct {
		Codes []ircode.Code `json:"codes"`
		Count int           `json:"count"`
	}
	decodeBody(t, rec, &listResp)
	if listResp.Count != 1 {
		t.Errorf("list count = %d, want 1", listResp.Count)
	}

	// Update
	rec = doRequest(t, router, http.MethodPut, "/api/v1/ircodes/"+created.ID, ircode.Code{
		Code:        validSendIR,
		Description: "panasonic power",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated ircode.Code
	decodeBody(t, rec, &updated)
	if updated.Description != "panasonic power" {
		t.Errorf("description = %q", updated.Description)
	}

	// Delete
	rec = doRequest(t, router, http.MethodDelete, "/api/v1/ircodes/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, "/api/v1/ircodes/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestIRCodeCreateErrors(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	store := newFakeStore()
	_, router := newTestServer(t, gw, store)

	seed := ircode.Code{DeviceID: "tv-lounge", Function: "power_on", Code: validSendIR}
	if rec := doRequest(t, router, http.MethodPost, "/api/v1/ircodes", seed); rec.Code != http.StatusCreated {
		t.Fatalf("seed create status = %d", rec.Code)
	}

	tests := []struct {
		name       string
		code       ircode.Code
		wantStatus int
	}{
		{
			"duplicate function",
			ircode.Code{DeviceID: "tv-lounge", Function: "power_on", Code: validSendIR},
			http.StatusConflict,
		},
		{
			"truncated sendir",
			ircode.Code{DeviceID: "tv-lounge", Function: "power_off", Code: "sendir,1:1,1,38000,1"},
			http.StatusUnprocessableEntity,
		},
		{
			"missing fields",
			ircode.Code{Function: "power_off", Code: validSendIR},
			http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/ircodes", tt.code)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestSendCode(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	store := newFakeStore()
	_, router := newTestServer(t, gw, store)

	seed := ircode.Code{DeviceID: "tv-lounge", Function: "hdmi_2", Code: validSendIR}
	if rec := doRequest(t, router, http.MethodPost, "/api/v1/ircodes", seed); rec.Code != http.StatusCreated {
		t.Fatalf("seed create status = %d", rec.Code)
	}

	body := sendCodeRequest{BlasterID: "ir-lounge", DeviceID: "tv-lounge", Function: "hdmi_2"}
	rec := doRequest(t, router, http.MethodPost, "/api/v1/ircodes/send", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	cmd := gw.command()
	if cmd == nil {
		t.Fatal("gateway never saw the command")
	}
	if cmd.DeviceID != "ir-lounge" {
		t.Errorf("command targets %q, want the blaster", cmd.DeviceID)
	}
	if !cmd.Idempotent {
		t.Error("IR send not marked idempotent")
	}

	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Code != validSendIR {
		t.Errorf("payload code = %q", payload.Code)
	}
}

func TestSendCodeValidation(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, newFakeStore())

	tests := []struct {
		name string
		body sendCodeRequest
		want int
	}{
		{"missing blaster", sendCodeRequest{DeviceID: "tv", Function: "power_on"}, http.StatusBadRequest},
		{"missing function", sendCodeRequest{BlasterID: "ir-1", DeviceID: "tv"}, http.StatusBadRequest},
		{"unknown code", sendCodeRequest{BlasterID: "ir-1", DeviceID: "tv", Function: "ghost"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/ircodes/send", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// =============================================================================
// Telemetry WebSocket Tests
// =============================================================================

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// newTelemetryHub builds a hub whose listeners are fakes, so tests can
// inject readings with hub.Publish.
func newTelemetryHub(t *testing.T) *telemetry.Hub {
	t.Helper()

	reg, err := device.NewRegistry(testDevices())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	hub := telemetry.NewHub(telemetry.Options{
		Registry: reg,
		Listen: func(string, func([]byte)) (io.Closer, error) {
			return noopCloser{}, nil
		},
	})
	t.Cleanup(func() { hub.Close() })
	return hub
}

func TestTelemetryWebSocketStreamsReadings(t *testing.T) {
	hub := newTelemetryHub(t)
	gw := &fakeGateway{devices: testDevices(), hub: hub}
	_, router := newTestServer(t, gw, nil)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/devices/dsp-main-bar/telemetry"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v (resp %v)", err, resp)
	}
	defer ws.Close()

	want := codec.Reading{
		DeviceID:  "dsp-main-bar",
		Channel:   "level_1",
		Value:     -12.5,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	hub.Publish(want)

	//nolint:errcheck // Deadline errors surface on ReadJSON
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got codec.Reading
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.DeviceID != want.DeviceID || got.Channel != want.Channel || got.Value != want.Value {
		t.Errorf("reading = %+v, want %+v", got, want)
	}
}

func TestTelemetryWebSocketNoTelemetry(t *testing.T) {
	hub := newTelemetryHub(t)
	gw := &fakeGateway{devices: testDevices(), hub: hub}
	_, router := newTestServer(t, gw, nil)

	// The matrix has no telemetry port: refused before the upgrade.
	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices/matrix-rack/telemetry", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTelemetryWebSocketUnknownDevice(t *testing.T) {
	hub := newTelemetryHub(t)
	gw := &fakeGateway{devices: testDevices(), hub: hub}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices/ghost/telemetry", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRequestIDHeader(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	// Client-supplied IDs are echoed back.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Header().Get("X-Request-ID") != "trace-123" {
		t.Errorf("X-Request-ID = %q, want trace-123", rec2.Header().Get("X-Request-ID"))
	}
}

func TestCORSPreflight(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	_, router := newTestServer(t, gw, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin missing")
	}
}

func TestServerLifecycle(t *testing.T) {
	gw := &fakeGateway{devices: testDevices()}
	cfg := config.Default()
	cfg.API.Port = 0 // ephemeral port
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	s, err := New(Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Gateway: gw,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
