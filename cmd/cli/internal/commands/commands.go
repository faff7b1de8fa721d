package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/config"
	"github.com/wolfeidau/caseguard/internal/guard"
	"github.com/wolfeidau/caseguard/internal/logger"
	"github.com/wolfeidau/caseguard/internal/page"
	"github.com/wolfeidau/caseguard/internal/store"
	"github.com/wolfeidau/caseguard/internal/store/file"
	"github.com/wolfeidau/caseguard/internal/store/memory"
	"github.com/wolfeidau/caseguard/internal/store/postgres"
	redisstore "github.com/wolfeidau/caseguard/internal/store/redis"
	"github.com/wolfeidau/caseguard/internal/supabase"
	"github.com/wolfeidau/caseguard/internal/terminal"
)

type Globals struct {
	Debug   bool
	Version string

	Config      string
	SupabaseURL string
	AnonKey     string
	StoreDriver string
	StorePath   string
}

// loadConfig reads the config file and applies flag and environment overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}

	if g.SupabaseURL != "" {
		cfg.Supabase.URL = g.SupabaseURL
	}
	if g.AnonKey != "" {
		cfg.Supabase.AnonKey = g.AnonKey
	}
	if g.StoreDriver != "" {
		cfg.Store.Driver = g.StoreDriver
	}
	if g.StorePath != "" {
		cfg.Store.Path = g.StorePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// environment is what every command needs: configuration, the session store
// and the backend client.
type environment struct {
	cfg     *config.Config
	store   store.Store
	backend backend.Client
	auth    *supabase.Client
	closers []func()
}

func (g *Globals) open(ctx context.Context) (*environment, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg}

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	env.store = st
	env.closers = append(env.closers, closeStore)

	httpClient := &http.Client{Transport: logger.NewHTTPRequests(log.Logger, http.DefaultTransport)}

	client, err := supabase.New(supabase.Config{
		URL:        cfg.Supabase.URL,
		AnonKey:    cfg.Supabase.AnonKey,
		Timeout:    cfg.Supabase.Timeout,
		CacheDir:   cfg.Supabase.CacheDir,
		HTTPClient: httpClient,
	}, st)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	env.auth = client
	env.backend = client

	return env, nil
}

func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *environment) newGuard(doc *page.Document, con *terminal.Console) (*guard.Guard, error) {
	return guard.New(guard.Config{
		SignInPath:      e.cfg.SignInPath,
		RefreshInterval: e.cfg.Session.RefreshInterval,
		CallTimeout:     e.cfg.Supabase.Timeout,
		SessionTimeout:  e.cfg.Session.Timeout,
		WarningWindow:   e.cfg.Session.WarningWindow,
		PollInterval:    e.cfg.Session.PollInterval,
	}, guard.Deps{
		Backend:   e.backend,
		Store:     e.store,
		Document:  doc,
		Navigator: con,
		Prompter:  con,
		Alerter:   con,
	})
}

// openStore opens the configured session store and returns a function
// releasing it.
func openStore(ctx context.Context, cfg config.Store) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverFile:
		st, err := file.NewStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		log.Debug().Str("dir", st.Dir()).Msg("using file store")
		return st, func() {}, nil

	case config.DriverMemory:
		return memory.NewStore(), func() {}, nil

	case config.DriverRedis:
		st, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.Namespace)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return st, func() {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis store")
			}
		}, nil

	case config.DriverPostgres:
		st, err := postgres.Open(ctx, &postgres.PoolConfig{ConnString: cfg.PostgresDSN}, cfg.Namespace)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, st.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newPage builds the document shown by the commands: identity and remaining
// time slots plus the two session controls.
func newPage() *page.Document {
	doc := page.NewDocument()
	doc.Add(
		page.NewElement("", page.AttrUserEmail),
		page.NewElement("", page.AttrSessionTime),
		page.NewElement("Sign out", page.AttrLogout),
		page.NewElement("Extend session", page.AttrExtendSession),
	)
	return doc
}
