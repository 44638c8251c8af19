package main

// hub.go implements the hub subcommands: the hidden daemon entry point
// (`hub run`, spawned detached by the first session) and the out-of-band
// info/status/stop commands that work from the hub state files.

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shrijayan/itwillsync/internal/config"
	"github.com/shrijayan/itwillsync/internal/hub"
	"github.com/shrijayan/itwillsync/internal/hubclient"
	"github.com/shrijayan/itwillsync/internal/storage"
)

func runHubCommand(sub string, args []string, stdout, stderr io.Writer) int {
	switch sub {
	case "run":
		return runHubDaemon(stdout, stderr)
	case "info":
		return runHubInfo(stdout, stderr)
	case "status":
		return runHubStatus(stdout, stderr)
	case "stop":
		return runHubStop(stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown hub command: %s\n", sub)
		return 1
	}
}

// runHubDaemon is the detached daemon entry point. It blocks until the hub
// shuts down (empty registry grace, signal, or stop request).
func runHubDaemon(stdout, stderr io.Writer) int {
	cfg := config.Load()
	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	err = hub.Run(hub.Options{
		InternalPort: config.DefaultInternalPort,
		ExternalPort: config.DefaultDashboardPort,
		AssetRoot:    assetRoot("dashboard"),
		HistoryPath:  filepath.Join(dir, "history.db"),
		EnableMDNS:   cfg.NetworkingMode == config.ModeLocal,
		Stdout:       stdout,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runHubInfo(stdout, stderr io.Writer) int {
	state, err := config.ReadHubState()
	if err != nil {
		fmt.Fprintln(stdout, "No hub is running.")
		return 1
	}

	ip := accessIP(config.Load().NetworkingMode)
	fmt.Fprintf(stdout, "Hub pid:       %d\n", state.PID)
	fmt.Fprintf(stdout, "Started:       %s\n", time.UnixMilli(state.StartedAt).Format(time.RFC1123))
	fmt.Fprintf(stdout, "Internal port: %d\n", state.InternalPort)
	fmt.Fprintf(stdout, "Dashboard:     http://%s:%d?token=%s\n", ip, state.ExternalPort, state.MasterToken)
	return 0
}

func runHubStatus(stdout, stderr io.Writer) int {
	state, err := config.ReadHubState()
	if err != nil {
		fmt.Fprintln(stdout, "No hub is running.")
		return 1
	}

	client := hubclient.New(state.InternalPort)
	if !client.Healthy() {
		fmt.Fprintln(stdout, "Hub state files exist but the hub is not responding.")
		return 1
	}

	sessions, err := client.Sessions()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Active sessions: %d\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(stdout, "  %s  %-16s %-9s port %d  pid %d\n", s.ID, s.Name, s.Status, s.Port, s.PID)
	}

	// Recent history, best-effort: the db may not exist yet.
	dir, err := config.Dir()
	if err != nil {
		return 0
	}
	history, err := storage.OpenHistory(filepath.Join(dir, "history.db"))
	if err != nil {
		return 0
	}
	defer history.Close()

	recent, err := history.Recent(5)
	if err != nil || len(recent) == 0 {
		return 0
	}
	fmt.Fprintln(stdout, "Recent sessions:")
	for _, rec := range recent {
		ended := "running"
		if rec.EndedAt != nil {
			ended = "ended " + rec.EndedAt.Local().Format("15:04:05")
		}
		fmt.Fprintf(stdout, "  %s  %-16s %s\n", rec.ID, rec.Name, ended)
	}
	return 0
}

// runHubStop asks the hub to exit: first a master-token stop request over
// the dashboard API, then SIGTERM to the recorded pid as a fallback.
func runHubStop(stdout, stderr io.Writer) int {
	state, err := config.ReadHubState()
	if err != nil {
		fmt.Fprintln(stdout, "No hub is running.")
		return 1
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/shutdown?token=%s", state.ExternalPort, state.MasterToken)
	httpClient := &http.Client{Timeout: 3 * time.Second}
	resp, err := httpClient.Post(url, "application/json", nil)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Fprintln(stdout, "Hub stopping.")
			return 0
		}
	}

	if err := syscall.Kill(state.PID, syscall.SIGTERM); err != nil {
		fmt.Fprintf(stderr, "Error: failed to stop hub (pid %d): %v\n", state.PID, err)
		return 1
	}
	fmt.Fprintln(stdout, "Hub stopping.")
	return 0
}
