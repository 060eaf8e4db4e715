package config

import (
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvCaptureBackoff, "")
	t.Setenv(EnvCaptureRetries, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.CapturePollInterval() != 50*time.Millisecond {
		t.Errorf("CapturePollInterval() = %v, want 50ms", cfg.CapturePollInterval())
	}
	if cfg.CaptureMaxWait() != 2*time.Second {
		t.Errorf("CaptureMaxWait() = %v, want 2s", cfg.CaptureMaxWait())
	}
	if cfg.CaptureRetries() != 3 {
		t.Errorf("CaptureRetries() = %d, want 3", cfg.CaptureRetries())
	}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 800 * time.Millisecond}
	got := cfg.CaptureBackoff()
	if len(got) != len(want) {
		t.Fatalf("CaptureBackoff() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CaptureBackoff()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if cfg.BridgeModule() != DefaultBridgeModule {
		t.Errorf("BridgeModule() = %q, want %q", cfg.BridgeModule(), DefaultBridgeModule)
	}
}

func TestNew_CaptureOverrides(t *testing.T) {
	t.Setenv(EnvCaptureBackoff, "100, 200")
	t.Setenv(EnvCaptureRetries, "5")
	t.Setenv(EnvCaptureMaxWait, "750")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CaptureRetries() != 5 {
		t.Errorf("CaptureRetries() = %d, want 5", cfg.CaptureRetries())
	}
	if cfg.CaptureMaxWait() != 750*time.Millisecond {
		t.Errorf("CaptureMaxWait() = %v, want 750ms", cfg.CaptureMaxWait())
	}
	if b := cfg.CaptureBackoff(); len(b) != 2 || b[1] != 200*time.Millisecond {
		t.Errorf("CaptureBackoff() = %v, want [100ms 200ms]", b)
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{EnvPort, "70000"},
		{EnvPort, "abc"},
		{EnvCaptureRetries, "0"},
		{EnvCaptureBackoff, "fast"},
		{EnvCaptureMaxWait, "-1"},
		{EnvThumbnailRule, "random"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestParseBackoff(t *testing.T) {
	got, err := ParseBackoff("250,500,,800")
	if err != nil {
		t.Fatalf("ParseBackoff error: %v", err)
	}
	if len(got) != 3 || got[2] != 800*time.Millisecond {
		t.Errorf("ParseBackoff = %v", got)
	}
	if _, err := ParseBackoff(" , "); err == nil {
		t.Error("ParseBackoff of empty list should fail")
	}
}

func TestDataDirPaths(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/ditreport-test")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath() != "/tmp/ditreport-test/"+DBFilename {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.ScratchDir() != "/tmp/ditreport-test/scratch" {
		t.Errorf("ScratchDir() = %q", cfg.ScratchDir())
	}
}
