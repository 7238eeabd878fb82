package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/config"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/term"
)

func TestEncodeLine(t *testing.T) {
	tests := []struct {
		line    string
		hex     bool
		ending  term.LineEnding
		want    []byte
		wantErr bool
	}{
		{"AT", false, term.LineCRLF, []byte("AT\r\n"), false},
		{"AT", false, term.LineNone, []byte("AT"), false},
		{"", false, term.LineLF, []byte("\n"), false},
		{"41 54 0d", true, term.LineLF, []byte("AT\r"), false},
		{"4", true, term.LineLF, nil, true},
	}
	for _, tt := range tests {
		got, err := encodeLine(tt.line, tt.hex, tt.ending)
		if tt.wantErr {
			if err == nil {
				t.Errorf("encodeLine(%q) expected error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("encodeLine(%q) error = %v", tt.line, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encodeLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, " aa:bb:cc:dd:ee:ff", 115200, true, true, true)

	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Address = %q", cfg.Device.Address)
	}
	if cfg.Device.BaudRate != 115200 {
		t.Errorf("BaudRate = %d", cfg.Device.BaudRate)
	}
	if !cfg.Terminal.HexMode || cfg.Terminal.Output != term.OutputJSON || !cfg.MQTT.Enabled {
		t.Errorf("terminal/mqtt = %+v %+v", cfg.Terminal, cfg.MQTT)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyFlagsKeepsFileValues(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Address = "11:22:33:44:55:66"
	cfg.Device.BaudRate = 9600
	applyFlags(cfg, "", 0, false, false, false)

	if cfg.Device.Address != "11:22:33:44:55:66" || cfg.Device.BaudRate != 9600 {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Terminal.Output != term.OutputText || cfg.MQTT.Enabled {
		t.Errorf("defaults changed: %+v %+v", cfg.Terminal, cfg.MQTT)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("device:\n  address: aa:bb:cc:dd:ee:ff\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Address = %q", cfg.Device.Address)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Terminal.LineEnding != "lf" {
		t.Errorf("LineEnding = %q, want lf", cfg.Terminal.LineEnding)
	}
}

func TestSerialOptionsBaudAppliedOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Device.BaudRate = 115200

	if got := serialOptions(cfg, logger).Baud; got != 0 {
		t.Errorf("terminal mode Baud = %d, want 0 (set by runTerminal)", got)
	}
	cfg.MQTT.Enabled = true
	opts := serialOptions(cfg, logger)
	if opts.Baud != 115200 {
		t.Errorf("bridge mode Baud = %d, want 115200", opts.Baud)
	}
	if opts.ReadTimeout != cfg.Device.ReadTimeout || opts.Logger != logger {
		t.Errorf("options = %+v", opts)
	}
}
