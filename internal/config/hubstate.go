package config

// hubstate.go manages the hub's on-disk state files. The hub writes them
// once at startup and deletes them on clean shutdown; sessions and
// out-of-band CLI commands read them to find and authenticate against a
// running hub.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HubState mirrors hub.json on disk.
type HubState struct {
	// MasterToken authorizes dashboard access. 64 lowercase hex characters.
	MasterToken string `json:"masterToken"`

	// ExternalPort is the dashboard HTTP+WebSocket port.
	ExternalPort int `json:"externalPort"`

	// InternalPort is the loopback control API port.
	InternalPort int `json:"internalPort"`

	// PID is the hub daemon's process id.
	PID int `json:"pid"`

	// StartedAt is the hub start time in milliseconds since the epoch.
	StartedAt int64 `json:"startedAt"`
}

// HubStatePath returns the location of hub.json.
func HubStatePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hub.json"), nil
}

// HubPIDPath returns the location of hub.pid.
func HubPIDPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hub.pid"), nil
}

// WriteHubState persists hub.json and hub.pid, creating the config
// directory if needed. Both files are 0600; the master token lives in
// hub.json.
func WriteHubState(state *HubState) error {
	statePath, err := HubStatePath()
	if err != nil {
		return err
	}
	pidPath, err := HubPIDPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(statePath), 0700); err != nil {
		return fmt.Errorf("config: failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to encode hub state: %w", err)
	}
	if err := os.WriteFile(statePath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("config: failed to write hub state: %w", err)
	}

	pid := strconv.Itoa(state.PID) + "\n"
	if err := os.WriteFile(pidPath, []byte(pid), 0600); err != nil {
		return fmt.Errorf("config: failed to write hub pid file: %w", err)
	}
	return nil
}

// ReadHubState loads hub.json. Returns os.ErrNotExist (wrapped) when no hub
// state file is present, which callers treat as "no hub running".
func ReadHubState() (*HubState, error) {
	path, err := HubStatePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read hub state: %w", err)
	}

	var state HubState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("config: failed to parse hub state: %w", err)
	}
	return &state, nil
}

// ReadHubPID reads hub.pid as a plain decimal string.
func ReadHubPID() (int, error) {
	path, err := HubPIDPath()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("config: failed to read hub pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("config: invalid hub pid file: %w", err)
	}
	return pid, nil
}

// RemoveHubState deletes hub.json and hub.pid. Missing files are not an
// error; shutdown must be idempotent.
func RemoveHubState() error {
	statePath, err := HubStatePath()
	if err != nil {
		return err
	}
	pidPath, err := HubPIDPath()
	if err != nil {
		return err
	}

	var firstErr error
	for _, path := range []string{statePath, pidPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
