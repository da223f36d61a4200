package sysinfo

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestCollect(t *testing.T) {
	info, err := Collect("")
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}
	if info.Platform == "" {
		t.Error("Platform is empty")
	}

	t.Logf("Collected: host=%s mac=%s platform=%s", info.Hostname, info.MACAddress, info.Platform)
}

func TestCollect_UnknownInterface(t *testing.T) {
	if _, err := Collect("no-such-iface0"); err == nil {
		t.Error("expected error for unknown interface")
	}
}

func TestUsable(t *testing.T) {
	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	cases := []struct {
		name  string
		iface net.Interface
		want  bool
	}{
		{"up with mac", net.Interface{Flags: net.FlagUp, HardwareAddr: mac}, true},
		{"down", net.Interface{HardwareAddr: mac}, false},
		{"loopback", net.Interface{Flags: net.FlagUp | net.FlagLoopback, HardwareAddr: mac}, false},
		{"no mac", net.Interface{Flags: net.FlagUp}, false},
	}
	for _, tc := range cases {
		if got := usable(tc.iface); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPrettyName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	os.WriteFile(path, []byte("NAME=Debian\nPRETTY_NAME=\"Debian GNU/Linux 12\"\nID=debian\n"), 0644)

	if got := prettyName(path); got != "Debian GNU/Linux 12" {
		t.Errorf("PRETTY_NAME: got %q, want %q", got, "Debian GNU/Linux 12")
	}
	if got := prettyName(filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Errorf("missing file: got %q, want empty", got)
	}
}
