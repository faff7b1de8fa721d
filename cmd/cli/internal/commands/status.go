package commands

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/guard"
	"github.com/wolfeidau/caseguard/internal/terminal"
)

// StatusCmd checks the session once and prints what a guarded page would show.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	env, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	console := terminal.New(os.Stdin, os.Stdout)
	doc := newPage()

	g, err := env.newGuard(doc, console)
	if err != nil {
		return err
	}
	defer g.Close()

	decision, err := g.Check(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("session check failed")
	}

	console.Printf("Session: %s\n", decision)
	if decision == guard.DecisionAdmitted {
		console.Render(doc)
	}

	settings, err := env.auth.Settings(ctx)
	if err != nil {
		console.Printf("Auth service: unreachable (%v)\n", err)
		return nil
	}

	providers := settings.Providers()
	if len(providers) == 0 {
		providers = []string{"none"}
	}
	console.Printf("Auth service: reachable, providers: %s\n", strings.Join(providers, ", "))

	return nil
}
