package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfeidau/caseguard/internal/guard"
	"github.com/wolfeidau/caseguard/internal/session"
	"github.com/wolfeidau/caseguard/internal/terminal"
)

// ExtendCmd records activity so the inactivity timeout starts over.
type ExtendCmd struct{}

func (c *ExtendCmd) Run(ctx context.Context, globals *Globals) error {
	env, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	console := terminal.New(os.Stdin, os.Stdout)

	g, err := env.newGuard(newPage(), console)
	if err != nil {
		return err
	}
	defer g.Close()

	decision, err := g.Restore(ctx)
	if decision != guard.DecisionAdmitted {
		if err != nil {
			return err
		}
		return fmt.Errorf("no active session (%s)", decision)
	}

	if err := g.Monitor().Touch(ctx); err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}

	console.Success(fmt.Sprintf("Session extended, %s remaining", session.Format(g.Monitor().Remaining(ctx))))
	return nil
}
