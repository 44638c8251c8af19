package hub

// hub.go assembles the hub daemon: registry, internal API, dashboard,
// preview collector, session history, mDNS advertisement, state files, and
// the auto-shutdown timer. Run blocks until shutdown.

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shrijayan/itwillsync/internal/auth"
	"github.com/shrijayan/itwillsync/internal/config"
	"github.com/shrijayan/itwillsync/internal/mdns"
	"github.com/shrijayan/itwillsync/internal/storage"
)

// shutdownGrace is how long the hub lingers after the last session
// unregisters before exiting. A new registration in that window cancels the
// shutdown. A variable so lifecycle tests can shorten the wait.
var shutdownGrace = 30 * time.Second

// Options configures a hub daemon.
type Options struct {
	// InternalPort is the loopback control API port.
	InternalPort int

	// ExternalPort is the dashboard port.
	ExternalPort int

	// AssetRoot is the dashboard front-end bundle directory.
	AssetRoot string

	// HistoryPath is the SQLite session-history file. Empty disables the
	// history log.
	HistoryPath string

	// EnableMDNS advertises the dashboard via DNS-SD on the LAN.
	EnableMDNS bool

	// Stdout receives the readiness line. The parent CLI scans for it to
	// know the hub is up. Defaults to os.Stdout.
	Stdout io.Writer
}

// Hub is a running hub daemon.
type Hub struct {
	opts       Options
	registry   *Registry
	api        *InternalAPI
	dashboard  *Dashboard
	collector  *Collector
	history    *storage.History
	advertiser *mdns.Advertiser

	shutdown     chan struct{}
	shutdownOnce sync.Once

	timerMu sync.Mutex
	timer   *time.Timer
}

// Run starts a hub and blocks until it shuts down: 30 seconds after the
// registry empties, on SIGINT/SIGTERM, or on a master-token stop request.
// State files are removed on every exit path.
//
// A bind failure on the internal port means another hub already won the
// singleton election; the error is returned so the caller can defer to it.
func Run(opts Options) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	masterToken, err := auth.NewToken()
	if err != nil {
		return err
	}

	h := &Hub{
		opts:     opts,
		registry: NewRegistry(),
		shutdown: make(chan struct{}),
	}

	// The collector feeds the dashboard, and the dashboard replays the
	// collector's buffers on connect; wire both directions through h.
	h.collector = NewCollector(h.registry, func(sessionID string, lines []string) {
		h.dashboard.BroadcastPreview(sessionID, lines)
	})
	h.dashboard = NewDashboard(h.registry, DashboardConfig{
		MasterToken:       masterToken,
		AssetRoot:         opts.AssetRoot,
		Previews:          h.collector,
		OnShutdownRequest: h.requestShutdown,
	})
	h.api = NewInternalAPI(h.registry)

	// Singleton election: first bind of the internal port wins.
	if err := h.api.Listen(opts.InternalPort); err != nil {
		return err
	}
	if err := h.dashboard.Listen(opts.ExternalPort); err != nil {
		h.api.Stop()
		return err
	}

	if opts.HistoryPath != "" {
		history, err := storage.OpenHistory(opts.HistoryPath)
		if err != nil {
			// History is an amenity; the hub runs without it.
			log.Printf("hub: session history disabled: %v", err)
		} else {
			h.history = history
		}
	}

	h.registry.Watch(h.dashboard.BroadcastEvent)
	h.registry.Watch(h.collector.HandleEvent)
	h.registry.Watch(h.watchShutdown)
	if h.history != nil {
		h.registry.Watch(h.recordHistory)
	}
	h.registry.Start()

	h.api.Start()
	h.dashboard.Start()

	if opts.EnableMDNS {
		h.advertiser = mdns.NewAdvertiser(mdns.Config{Port: opts.ExternalPort})
		if err := h.advertiser.Start(); err != nil {
			log.Printf("hub: mdns advertisement failed: %v", err)
			h.advertiser = nil
		}
	}

	state := &config.HubState{
		MasterToken:  masterToken,
		ExternalPort: opts.ExternalPort,
		InternalPort: opts.InternalPort,
		PID:          os.Getpid(),
		StartedAt:    time.Now().UnixMilli(),
	}
	if err := config.WriteHubState(state); err != nil {
		h.cleanup()
		return err
	}

	// Readiness contract: exactly this line, once both sockets are bound
	// and the state files are on disk. The spawning CLI scans for it.
	fmt.Fprintf(opts.Stdout, "hub:ready:%d\n", opts.InternalPort)
	log.Printf("hub: ready (internal %d, dashboard %d, pid %d)", opts.InternalPort, opts.ExternalPort, os.Getpid())

	// The hub starts with an empty registry: give the spawning session the
	// same grace window to register that a draining hub gets.
	h.armShutdownTimer()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("hub: received %v, shutting down", sig)
	case <-h.shutdown:
	}

	h.cleanup()
	return nil
}

// requestShutdown triggers hub exit exactly once.
func (h *Hub) requestShutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

// watchShutdown arms the auto-shutdown timer when the registry empties and
// cancels it when a session registers.
func (h *Hub) watchShutdown(e Event) {
	switch e.Type {
	case EventSessionAdded:
		h.cancelShutdownTimer()
	case EventSessionRemoved:
		if h.registry.Size() == 0 {
			h.armShutdownTimer()
		}
	}
}

func (h *Hub) armShutdownTimer() {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()

	if h.timer != nil {
		return
	}
	log.Printf("hub: registry empty, exiting in %s unless a session registers", shutdownGrace)
	h.timer = time.AfterFunc(shutdownGrace, func() {
		// Clear the handle first so a fired-but-cancelled-too-late timer
		// never blocks a later re-arm.
		h.timerMu.Lock()
		h.timer = nil
		h.timerMu.Unlock()

		if h.registry.Size() == 0 {
			log.Printf("hub: no sessions for %s, exiting", shutdownGrace)
			h.requestShutdown()
		}
	})
}

func (h *Hub) cancelShutdownTimer() {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()

	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// recordHistory mirrors registry lifecycle events into the audit log.
func (h *Hub) recordHistory(e Event) {
	switch e.Type {
	case EventSessionAdded:
		err := h.history.RecordStart(storage.SessionRecord{
			ID:           e.Session.ID,
			Name:         e.Session.Name,
			Agent:        e.Session.Agent,
			Cwd:          e.Session.Cwd,
			Port:         e.Session.Port,
			PID:          e.Session.PID,
			RegisteredAt: time.UnixMilli(e.Session.ConnectedAt),
		})
		if err != nil {
			log.Printf("hub: failed to record session history: %v", err)
		}
	case EventSessionRemoved:
		if err := h.history.RecordEnd(e.Session.ID, time.Now()); err != nil {
			log.Printf("hub: failed to record session end: %v", err)
		}
	}
}

// cleanup tears everything down and removes the state files.
func (h *Hub) cleanup() {
	h.cancelShutdownTimer()
	if h.advertiser != nil {
		h.advertiser.Stop()
	}
	h.collector.Stop()
	h.dashboard.Stop()
	h.api.Stop()
	h.registry.Stop()
	if h.history != nil {
		h.history.Close()
	}
	if err := config.RemoveHubState(); err != nil {
		log.Printf("hub: failed to remove state files: %v", err)
	}
}
