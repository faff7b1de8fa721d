package commands

import (
	"context"
	"os"

	"github.com/wolfeidau/caseguard/internal/terminal"
)

// LogoutCmd signs out after confirmation.
type LogoutCmd struct {
	Force bool `help:"Sign out without asking for confirmation"`
}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
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

	if c.Force {
		return g.SignOut(ctx)
	}

	// the console only answers prompts while it reads input
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = console.Run(readCtx, func(context.Context, string) {})
	}()

	g.Logout(ctx)
	return nil
}
