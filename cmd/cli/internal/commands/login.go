package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wolfeidau/caseguard/internal/store"
	"github.com/wolfeidau/caseguard/internal/terminal"
)

// LoginCmd signs in with email and password.
type LoginCmd struct {
	Email    string `help:"Account email" required:""`
	Password string `help:"Account password, read from stdin when empty" env:"CASEGUARD_PASSWORD"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	env, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	password := c.Password
	if password == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	console := terminal.New(os.Stdin, os.Stdout)

	g, err := env.newGuard(newPage(), console)
	if err != nil {
		return err
	}
	defer g.Close()

	// SIGNED_IN starts activity tracking
	g.Subscribe()

	session, err := env.auth.SignInWithPassword(ctx, c.Email, password)
	if err != nil {
		return err
	}

	if err := env.store.Set(ctx, store.KeyUserEmail, session.User.Email); err != nil {
		return fmt.Errorf("failed to cache user email: %w", err)
	}

	console.Success(fmt.Sprintf("Signed in as %s", session.User.Email))
	console.Printf("Session expires after %s of inactivity\n", g.Monitor().Timeout())

	return nil
}
