package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/guard"
	"github.com/wolfeidau/caseguard/internal/page"
	"github.com/wolfeidau/caseguard/internal/store/file"
	"github.com/wolfeidau/caseguard/internal/terminal"
)

// WatchCmd keeps a guarded page open on the terminal until the session ends.
type WatchCmd struct{}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	env, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle interrupts
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	console := terminal.New(os.Stdin, os.Stdout)
	doc := newPage()

	g, err := env.newGuard(doc, console)
	if err != nil {
		return err
	}
	defer g.Close()

	// leaving the page ends the watch
	console.OnNavigate(func(string) { cancel() })
	g.Subscribe()

	d := &dashboard{guard: g, doc: doc, console: console, quit: cancel}
	if !d.open(ctx) {
		return nil
	}

	if fs, ok := env.store.(*file.Store); ok {
		d.follow(ctx, fs, env.auth.StorageKey())
	}
	go d.redraw(ctx, env.cfg.Session.RefreshInterval)

	err = console.Run(ctx, d.handle)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// dashboard is the interactive guarded page.
type dashboard struct {
	guard   *guard.Guard
	doc     *page.Document
	console *terminal.Console
	quit    context.CancelFunc
}

// open runs the page gate and wires the controls. It reports whether the
// page was admitted.
func (d *dashboard) open(ctx context.Context) bool {
	decision, err := d.guard.Check(ctx)
	if decision != guard.DecisionAdmitted {
		if err != nil {
			log.Debug().Err(err).Msg("session check failed")
		}
		d.console.Printf("Session: %s\n", decision)
		return false
	}

	d.guard.Wire(ctx)
	d.console.Render(d.doc)
	d.console.Printf("Commands: extend, logout, status, quit\n")

	return true
}

// handle treats every line as a key press and runs the command it names.
func (d *dashboard) handle(ctx context.Context, line string) {
	d.doc.Dispatch(page.Event{Kind: page.EventKeyDown})

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "extend":
		d.click(ctx, page.AttrExtendSession)
		d.guard.RenderSessionTime(ctx)
		d.console.Success(fmt.Sprintf("%s, %s remaining", guard.ExtendedLabel, d.timeLeft()))
	case "logout":
		d.click(ctx, page.AttrLogout)
	case "status":
		d.guard.RenderSessionTime(ctx)
		d.console.Render(d.doc)
	case "quit", "exit":
		d.quit()
	default:
		d.console.Printf("Unknown command %q\n", line)
	}
}

func (d *dashboard) click(ctx context.Context, attr string) {
	for _, el := range d.doc.Query(attr) {
		d.doc.Click(ctx, el)
		return
	}
}

func (d *dashboard) timeLeft() string {
	for _, el := range d.doc.Query(page.AttrSessionTime) {
		return el.Text()
	}
	return ""
}

// redraw prints the slots every interval, after the guard has refreshed them.
func (d *dashboard) redraw(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.guard.RenderSessionTime(ctx)
			d.console.Render(d.doc)
		}
	}
}

// follow re-checks the session when another process changes the persisted
// session, the way a page restored from cache is re-checked.
func (d *dashboard) follow(ctx context.Context, fs *file.Store, sessionKey string) {
	err := fs.Watch(ctx, func(key string) {
		if key != sessionKey {
			return
		}
		if decision, err := d.guard.Restore(ctx); decision != guard.DecisionAdmitted {
			log.Debug().Err(err).Str("decision", string(decision)).Msg("session ended elsewhere")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to watch session store")
	}
}
