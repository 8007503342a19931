package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/agentward/internal/status"
)

// Registration file format: first line is the PID, second line is a JSON
// meta object. The start time guards against PID reuse after a crash.
type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// RegistrationPath returns the conventional registration file for an
// agent: <normalized name>.pid under dir.
func RegistrationPath(dir, agentName string) string {
	return filepath.Join(dir, status.NormalizeName(agentName)+".pid")
}

// WritePIDFile registers the calling process at path. Workers call this at
// startup so the supervisor can do exact PID liveness checks instead of
// scanning command lines.
func WritePIDFile(path string) error {
	pid := os.Getpid()
	meta := pidMeta{StartUnix: procStartUnix(int32(pid))}
	mb, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(mb) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// RemovePIDFile deletes a registration file, ignoring a missing file.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadPIDFile reads a registration written by WritePIDFile. For legacy
// files that contain only the PID, startUnix is zero.
func ReadPIDFile(path string) (pid int, startUnix int64, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	rest = strings.TrimSpace(rest)
	if rest != "" {
		var m pidMeta
		if json.Unmarshal([]byte(rest), &m) == nil {
			startUnix = m.StartUnix
		}
	}
	return pid, startUnix, nil
}

// procStartUnix returns the start time (unix seconds) of pid, or 0 when it
// cannot be determined.
func procStartUnix(pid int32) int64 {
	p, err := process.NewProcess(pid)
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil {
		return 0
	}
	return ms / 1000
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// PIDFileDetector detects a process via a registration file.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, startUnix, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if startUnix > 0 {
		cur := procStartUnix(int32(pid))
		if cur > 0 && cur != startUnix {
			return false, nil // PID reused; not our process
		}
	}
	return pidAlive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PID returns the registered PID if it passes the same liveness and
// start-time checks as Alive.
func (d PIDFileDetector) PID() (int, bool) {
	pid, startUnix, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		return 0, false
	}
	if startUnix > 0 {
		cur := procStartUnix(int32(pid))
		if cur > 0 && cur != startUnix {
			return 0, false
		}
	}
	if !pidAlive(pid) {
		return 0, false
	}
	return pid, true
}

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
