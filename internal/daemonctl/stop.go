package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"registrar/internal/config"
	"registrar/internal/ipc"
)

// ErrDaemonNotRunning is returned when nothing listens on the IPC socket.
var ErrDaemonNotRunning = errors.New("daemon not running")

type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// ProcessInfo reports whether the daemon answers on socketPath and its pid.
// A missing socket is not an error.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// WaitForShutdown waits until the socket disappears or the daemon reports
// that it is no longer running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	err := poll(timeout, func() (bool, error) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return isDaemonUnavailable(err), err
		}
		defer client.Close()
		status, err := client.Status()
		if err != nil {
			return false, err
		}
		if status.Running {
			return false, errors.New("daemon still running")
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// DeriveStateDir picks the daemon state directory from the lock path, then
// the database path, then the configuration.
func DeriveStateDir(lockPath, databasePath string, cfg *config.Config) string {
	switch {
	case lockPath != "":
		return filepath.Dir(lockPath)
	case databasePath != "":
		return filepath.Dir(databasePath)
	case cfg != nil:
		return strings.TrimSpace(cfg.Paths.StateDir)
	default:
		return ""
	}
}

func readPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// ForceKillProcess SIGKILLs the daemon named by pidPath (or fallbackPID when
// the file holds no usable pid) and removes its pid and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := readPID(pidPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid == 0 {
		pid = fallbackPID
	}
	switch {
	case pid <= 0:
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	case pid == os.Getpid():
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	for _, path := range []string{pidPath, lockPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pid, fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return pid, nil
}

// StopAndTerminate asks the daemon to stop and kills the process when its
// socket still answers after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var status ipc.StatusResponse
	if resp, err := client.Status(); err == nil {
		status = *resp
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{StopAcknowledged: resp.Stopped, PID: status.PID}

	_ = WaitForShutdown(socketPath, gracePeriod)
	alive, livePID, err := ProcessInfo(socketPath)
	if err != nil || !alive {
		return result, nil
	}
	if livePID == 0 {
		livePID = status.PID
	}

	stateDir := DeriveStateDir(status.LockFilePath, status.DatabasePath, cfg)
	if stateDir == "" {
		return result, errors.New("unable to determine daemon state directory")
	}
	killed, err := ForceKillProcess(filepath.Join(stateDir, "registrard.pid"), filepath.Join(stateDir, "registrard.lock"), livePID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Restart stops a running daemon and then starts it again.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopped, err := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	wasRunning := err == nil
	if err != nil && !errors.Is(err, ErrDaemonNotRunning) {
		return RestartResult{}, err
	}
	started, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{WasRunning: wasRunning, Stop: stopped, Start: started}, nil
}
