// Package sysinfo identifies the host a scanner runs on.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// HostInfo describes a scanner host as reported in relay batches.
type HostInfo struct {
	Hostname   string
	MACAddress string
	Platform   string
	Kernel     string
	Arch       string
}

// Collect gathers host identity. iface restricts MAC lookup to one
// interface; empty picks the first usable one.
func Collect(iface string) (*HostInfo, error) {
	mac, err := primaryMAC(iface)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	platform, kernel := platformInfo()

	return &HostInfo{
		Hostname:   hostname,
		MACAddress: mac,
		Platform:   platform,
		Kernel:     kernel,
		Arch:       runtime.GOARCH,
	}, nil
}

// primaryMAC returns the hardware address of the named interface, or of
// the first up, non-loopback interface that has one.
func primaryMAC(name string) (string, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return "", err
		}
		return iface.HardwareAddr.String(), nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if usable(iface) {
			return iface.HardwareAddr.String(), nil
		}
	}
	return "", nil
}

func usable(iface net.Interface) bool {
	if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
		return false
	}
	return len(iface.HardwareAddr) > 0
}

// platformInfo retrieves a readable platform name and kernel version.
func platformInfo() (string, string) {
	var platform, kernel string

	info, err := host.Info()
	if err == nil {
		platform = info.Platform
		if info.PlatformVersion != "" {
			platform += " " + info.PlatformVersion
		}
		kernel = info.KernelVersion
	}
	if platform == "" {
		platform = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if pretty := prettyName("/etc/os-release"); pretty != "" {
			platform = pretty
		}
	}
	return platform, kernel
}

// prettyName parses an os-release file for the PRETTY_NAME field.
func prettyName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if val, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(val, "\"")
		}
	}
	return ""
}
