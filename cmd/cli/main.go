package main

import (
	"context"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/cmd/cli/internal/commands"
	"github.com/wolfeidau/caseguard/internal/logger"
	"github.com/wolfeidau/caseguard/internal/telemetry"
)

var (
	version = "dev"
	cli     struct {
		Login  commands.LoginCmd  `cmd:"" help:"Sign in with email and password"`
		Status commands.StatusCmd `cmd:"" help:"Check the session and show the remaining time"`
		Extend commands.ExtendCmd `cmd:"" help:"Extend the session"`
		Logout commands.LogoutCmd `cmd:"" help:"Sign out"`
		Watch  commands.WatchCmd  `cmd:"" help:"Open a guarded page until the session ends"`

		Config      string `help:"Path to the config file (default: ~/.caseguard/config.yaml)" type:"path" env:"CASEGUARD_CONFIG"`
		SupabaseURL string `help:"Supabase project URL" env:"CASEGUARD_SUPABASE_URL"`
		AnonKey     string `help:"Supabase anon key" env:"CASEGUARD_ANON_KEY"`
		Store       string `help:"Session store driver (file, memory, redis, postgres)" env:"CASEGUARD_STORE"`
		StorePath   string `help:"Directory for the file store" type:"path" env:"CASEGUARD_STORE_PATH"`
		Debug       bool   `help:"Enable debug mode."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("caseguard"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	log.Logger = logger.Setup(cli.Debug)

	shutdown, err := telemetry.InitTelemetry(ctx, "caseguard", version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		shutdown = func(ctx context.Context) error { return nil }
	}

	err = cmd.Run(&commands.Globals{
		Debug:       cli.Debug,
		Version:     version,
		Config:      cli.Config,
		SupabaseURL: cli.SupabaseURL,
		AnonKey:     cli.AnonKey,
		StoreDriver: cli.Store,
		StorePath:   cli.StorePath,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown telemetry")
	}

	cmd.FatalIfErrorf(err)
}
