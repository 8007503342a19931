package detector

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// CmdlineDetector scans the OS process table for a command line containing
// Match. This is the legacy discovery path: substring matching is fragile
// (ambiguous matches, renamed binaries), so it is only used when no PID
// registration exists for an agent.
type CmdlineDetector struct {
	Match string
}

func (d CmdlineDetector) Alive() (bool, error) {
	_, found, err := findByCmdline(d.Match)
	return found, err
}

func (d CmdlineDetector) Describe() string { return "cmdline:" + d.Match }

// PID returns the first process whose command line contains Match.
func (d CmdlineDetector) PID() (int, bool) {
	pid, found, err := findByCmdline(d.Match)
	if err != nil || !found {
		return 0, false
	}
	return pid, true
}

func findByCmdline(match string) (int, bool, error) {
	if match == "" {
		return 0, false, nil
	}
	procs, err := process.Processes()
	if err != nil {
		return 0, false, err
	}
	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		// Processes may vanish mid-scan; treat per-process errors as a miss.
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, match) {
			return int(p.Pid), true, nil
		}
	}
	return 0, false, nil
}
