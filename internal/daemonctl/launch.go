package daemonctl

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"registrar/internal/ipc"
)

const pollEvery = 200 * time.Millisecond

// LaunchOptions are forwarded to the hidden `registrar daemon` command.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	for _, flag := range [][2]string{
		{"--socket", o.SocketPath},
		{"--config", o.ConfigPath},
		{"--log-level", o.LogLevel},
	} {
		if value := strings.TrimSpace(flag[1]); value != "" {
			args = append(args, flag[0], value)
		}
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult reports what EnsureStarted had to do.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch spawns executablePath as a detached daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	proc := exec.Command(executablePath, opts.args()...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// poll calls check every pollEvery until it reports done or timeout elapses.
// The last error seen is returned on timeout.
func poll(timeout time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		done, err := check()
		if done {
			return nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(pollEvery)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timed out after %s", timeout)
	}
	return lastErr
}

// WaitForClient dials the socket until the daemon answers or timeout elapses.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := poll(timeout, func() (bool, error) {
		c, err := ipc.Dial(socketPath)
		if err != nil {
			return false, err
		}
		client = c
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("daemon failed to start: %w", err)
	}
	return client, nil
}

// EnsureStarted launches the daemon process when its socket is absent, then
// asks it to start dispatching unless it already is.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	launched := false
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if err := Launch(executablePath, opts); err != nil {
			return StartResult{}, err
		}
		if client, err = WaitForClient(socketPath, waitTimeout); err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	running := func(message string) StartResult {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true, Message: message}
		}
		return StartResult{State: StartStateAlreadyRunning, Message: message}
	}

	if status, err := client.Status(); err == nil && status != nil && status.Running {
		return running(""), nil
	}
	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	message := strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
	case strings.EqualFold(message, "daemon already running"):
		return running(message), nil
	case message == "":
		message = "Start request sent"
	}
	return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
}
