// Package hostinfo reports details about the machine nucleus is simulating
// on, for the CLI's `host` subcommand banner only — it plays no part in the
// scheduler or context-switch hot path. Adapted from
// arctir-proctor/host/host.go's LinuxReader, trimmed to the fields a
// simulator banner actually wants (architecture and logical CPU count).
package hostinfo

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// UnknownKey is reported when a detail cannot be determined.
const UnknownKey = "UNKNOWN"

const cpuInfoPath = "/proc/cpuinfo"

// Info describes the host nucleus's simulated machine is running on.
type Info struct {
	Architecture string
	LogicalCPUs  int
}

// Reader retrieves Info about the current host.
type Reader interface {
	Get() (*Info, error)
}

// HostReader is the default Reader, backed by uname(2) and /proc/cpuinfo.
type HostReader struct {
	CPUInfoPath string
}

// NewHostReader returns a HostReader using the standard /proc/cpuinfo path.
func NewHostReader() *HostReader {
	return &HostReader{CPUInfoPath: cpuInfoPath}
}

// Get reports the host's architecture and logical CPU count.
func (r *HostReader) Get() (*Info, error) {
	arch := getArch()
	count, err := countLogicalCPUs(r.CPUInfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed counting logical cpus: %w", err)
	}
	return &Info{
		Architecture: arch,
		LogicalCPUs:  count,
	}, nil
}

// getArch is the equivalent of `uname -m`, reporting e.g. "x86_64" or
// "aarch64".
func getArch() string {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return UnknownKey
	}
	return strings.TrimRight(string(utsname.Machine[:]), "\x00")
}

// countLogicalCPUs counts "processor" lines in /proc/cpuinfo, the same
// parse arctir-proctor's getCPUInfo performs.
func countLogicalCPUs(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(bufio.NewReader(f))
	for scanner.Scan() {
		kv := strings.SplitN(scanner.Text(), ":", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.TrimSpace(kv[0]) == "processor" {
			count++
		}
	}
	return count, scanner.Err()
}
