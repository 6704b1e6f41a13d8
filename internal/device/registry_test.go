package device

import (
	"errors"
	"testing"

	"github.com/silverlink-av/avgate-core/internal/codec"
)

func testDevices() []Device {
	return []Device{
		{
			ID:            "dsp-bar",
			Name:          "Main Bar DSP",
			Transport:     TransportTCP,
			Address:       "10.0.40.11",
			Port:          10007,
			Dialect:       codec.DialectJSONRPC,
			TelemetryPort: 3804,
		},
		{
			ID:        "matrix-rack",
			Transport: TransportTCP,
			Address:   "10.0.40.20",
			Port:      4001,
			Dialect:   codec.DialectTextMatrix,
		},
		{
			ID:        "ir-lounge",
			Transport: TransportUDP,
			Address:   "10.0.40.30",
			Port:      4998,
			Dialect:   codec.DialectIRBlaster,
		},
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(testDevices())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
}

func TestRegistryGet(t *testing.T) {
	r, err := NewRegistry(testDevices())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	d, err := r.Get("dsp-bar")
	if err != nil {
		t.Fatalf("Get(dsp-bar) error = %v", err)
	}
	if d.Addr() != "10.0.40.11:10007" {
		t.Errorf("Addr() = %q, want 10.0.40.11:10007", d.Addr())
	}
	if d.TelemetryAddr() != "10.0.40.11:3804" {
		t.Errorf("TelemetryAddr() = %q, want 10.0.40.11:3804", d.TelemetryAddr())
	}

	m, err := r.Get("matrix-rack")
	if err != nil {
		t.Fatalf("Get(matrix-rack) error = %v", err)
	}
	if m.TelemetryAddr() != "" {
		t.Errorf("TelemetryAddr() = %q, want empty for no telemetry", m.TelemetryAddr())
	}

	if _, err := r.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryList(t *testing.T) {
	r, err := NewRegistry(testDevices())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d devices, want 3", len(list))
	}
	// Sorted by id.
	if list[0].ID != "dsp-bar" || list[1].ID != "ir-lounge" || list[2].ID != "matrix-rack" {
		t.Errorf("List() order = %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr error
	}{
		{"missing id", func(d *Device) { d.ID = "" }, ErrInvalidDevice},
		{"bad transport", func(d *Device) { d.Transport = "serial" }, ErrInvalidDevice},
		{"missing address", func(d *Device) { d.Address = "" }, ErrInvalidDevice},
		{"bad port", func(d *Device) { d.Port = 0 }, ErrInvalidDevice},
		{"huge port", func(d *Device) { d.Port = 70000 }, ErrInvalidDevice},
		{"bad dialect", func(d *Device) { d.Dialect = "morse" }, ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devs := testDevices()
			tt.mutate(&devs[0])
			if _, err := NewRegistry(devs); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewRegistry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	devs := testDevices()
	devs[1].ID = devs[0].ID

	if _, err := NewRegistry(devs); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("NewRegistry() error = %v, want ErrDuplicateID", err)
	}
}

func TestRegistryReplace(t *testing.T) {
	r, err := NewRegistry(testDevices())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := r.Replace(testDevices()[:1]); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() after Replace = %d, want 1", r.Count())
	}

	// A failed replace leaves the registry untouched.
	bad := testDevices()[:1]
	bad[0].Port = 0
	if err := r.Replace(bad); err == nil {
		t.Fatal("Replace() with invalid device expected error")
	}
	if r.Count() != 1 {
		t.Errorf("Count() after failed Replace = %d, want 1", r.Count())
	}
}
