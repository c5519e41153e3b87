// Package ui shows the agent in the system tray.
package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/halworsen/footgas/internal/jobs"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = 2 * time.Second

// JobLister is the slice of the job service the tray reads.
type JobLister interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// RunnerControl is the slice of the job runner the tray drives.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	CurrentJob() string
}

type Tray struct {
	service JobLister
	runner  RunnerControl
	logger  *slog.Logger

	statusItem *systray.MenuItem
	queueItem  *systray.MenuItem
	lastItem   *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onOpenAPI func()
	onQuit    func()
	stop      chan struct{}
}

type TrayConfig struct {
	Service   JobLister
	Runner    RunnerControl
	Logger    *slog.Logger
	OnOpenAPI func()
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		service:   cfg.Service,
		runner:    cfg.Runner,
		logger:    cfg.Logger,
		onOpenAPI: cfg.OnOpenAPI,
		onQuit:    cfg.OnQuit,
		stop:      make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("footgas")
	systray.SetTooltip("footgas clip exporter")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current export")
	t.statusItem.Disable()

	t.queueItem = systray.AddMenuItem("Queued: 0", "Exports waiting to run")
	t.queueItem.Disable()

	t.lastItem = systray.AddMenuItem("Last: none", "Most recently finished export")
	t.lastItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Stop starting new exports")
	apiItem := systray.AddMenuItem("Copy API Address", "Log the API address and token")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit footgas")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-apiItem.ClickedCh:
				if t.onOpenAPI != nil {
					t.onOpenAPI()
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	t.refresh()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	if t.service == nil || t.runner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var active *jobs.Job
	if id := t.runner.CurrentJob(); id != "" {
		active, _ = t.service.Get(ctx, id)
	}
	recent, err := t.service.List(ctx, 50)
	if err != nil {
		t.logger.Debug("tray refresh failed", "error", err)
		return
	}
	snap := summarize(t.runner.IsPaused(), active, recent)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(snap.status)
	t.queueItem.SetTitle(fmt.Sprintf("Queued: %d", snap.pending))
	t.lastItem.SetTitle(snap.last)
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

type snapshot struct {
	status  string
	pending int
	last    string
}

// summarize renders the menu titles. recent is ordered newest first.
func summarize(paused bool, active *jobs.Job, recent []*jobs.Job) snapshot {
	snap := snapshot{status: "Status: Idle", last: "Last: none"}
	switch {
	case active != nil:
		snap.status = fmt.Sprintf("Exporting: %s %d%%", active.Phase, active.Progress)
		if active.Pass > 0 {
			snap.status += fmt.Sprintf(" (pass %d)", active.Pass)
		}
	case paused:
		snap.status = "Status: Paused"
	}

	lastFound := false
	for _, j := range recent {
		if j.Status == jobs.StatusPending {
			snap.pending++
		}
		if lastFound || !j.Finished() {
			continue
		}
		lastFound = true
		switch j.Status {
		case jobs.StatusCompleted:
			snap.last = fmt.Sprintf("Last: done, %d kbps", j.FinalKbps)
		default:
			snap.last = "Last: " + j.Status
			if j.ErrorCode != "" {
				snap.last += " (" + j.ErrorCode + ")"
			}
		}
	}
	return snap
}
