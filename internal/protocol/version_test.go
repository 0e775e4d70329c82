package protocol

import "testing"

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion(`#define FIRMWARE_VERSION "rp2daq_240715_build3"`)
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v != 240715 {
		t.Fatalf("v = %d, want 240715", v)
	}
}

func TestParseVersionMissing(t *testing.T) {
	if _, err := ParseVersion("no version here"); err == nil {
		t.Fatal("expected error")
	}
}
