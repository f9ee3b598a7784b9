// Package sysinfo reports the host facts a node advertises when it
// registers with the registry.
package sysinfo

import (
	"fmt"
	"net"
	"net/url"
	"runtime"

	"golang.org/x/sys/unix"
)

// Facts describes the local machine.
type Facts struct {
	Address string
	Memory  int64
	Cores   int
}

// Collect gathers memory, core count and the address baseURL resolves to.
func Collect(baseURL string) (Facts, error) {
	facts := Facts{Cores: runtime.NumCPU()}
	memory, err := TotalMemory()
	if err != nil {
		return facts, err
	}
	facts.Memory = memory
	if facts.Address, err = ResolveAddress(baseURL); err != nil {
		return facts, err
	}
	return facts, nil
}

// TotalMemory returns the physical memory of the machine in bytes.
func TotalMemory() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return int64(info.Totalram) * int64(info.Unit), nil
}

// ResolveAddress returns the first IP address the host of baseURL resolves to.
func ResolveAddress(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", host)
	}
	return addrs[0], nil
}
