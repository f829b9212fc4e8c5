package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("PAGEPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("PAGEPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 2 * time.Second},
		{"1500", 1500 * time.Millisecond},
		{"3s", 3 * time.Second},
		{"-1s", 2 * time.Second},
		{"soon", 2 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("PAGEPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("PAGEPIPE_TEST_DURATION", 2*time.Second); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("PAGEPIPE_TEST_STRING", "  value ")
	if got := GetEnvOrDefault("PAGEPIPE_TEST_STRING", "d"); got != "value" {
		t.Errorf("GetEnvOrDefault = %q", got)
	}
	t.Setenv("PAGEPIPE_TEST_STRING", "")
	if got := GetEnvOrDefault("PAGEPIPE_TEST_STRING", "d"); got != "d" {
		t.Errorf("GetEnvOrDefault default = %q", got)
	}
}
