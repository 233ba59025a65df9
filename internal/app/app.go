// Package app provides the main application setup and dependency injection.
package app

import (
	"stream-proxy-go/pkg/cache"
	"stream-proxy-go/pkg/config"
	"stream-proxy-go/pkg/fetch"
	"stream-proxy-go/pkg/handlers/api"
	"stream-proxy-go/pkg/httpclient"
	"stream-proxy-go/pkg/logging"
	"stream-proxy-go/pkg/providers"
	"stream-proxy-go/pkg/registry"
	"stream-proxy-go/pkg/server"
	"stream-proxy-go/pkg/session"
)

// App is the main application container.
type App struct {
	Config     *config.Config
	Log        *logging.Logger
	Server     *server.Server
	HTTPClient *httpclient.Client
	Store      *cache.Store
	Providers  *registry.ProviderRegistry
}

// New creates and initializes the application.
func New() (*App, error) {
	cfg := config.Load()

	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing StreamProxy", "port", cfg.Port, "log_level", cfg.LogLevel)

	httpClient := httpclient.New(cfg, log)
	store := cache.New()
	fetcher := fetch.New(httpClient, cfg.UserAgent, log)

	providerReg := registry.NewProviderRegistry()
	registerProviders(providerReg, cfg, httpClient, store, fetcher, log)

	srv := server.New(cfg, log)

	handlers := api.NewHandlers(cfg, log, fetcher, providerReg)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Config:     cfg,
		Log:        log,
		Server:     srv,
		HTTPClient: httpClient,
		Store:      store,
		Providers:  providerReg,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Log.Info("starting StreamProxy server", "port", a.Config.Port)
	return a.Server.Start()
}

// registerProviders wires up all stream providers. Add new providers by
// creating one in pkg/providers/ and registering it below.
func registerProviders(
	reg *registry.ProviderRegistry,
	cfg *config.Config,
	client *httpclient.Client,
	store *cache.Store,
	fetcher *fetch.Fetcher,
	log *logging.Logger,
) {
	bootstrap := session.NewManager(client, store, log, client.Identity(), session.Config{
		ChallengeURL:  cfg.CNCVerseMainURL + "/tv/p.php",
		SuccessMarker: `"r":"n"`,
		CookieName:    "t_hash_t",
		MaxRetries:    cfg.BypassMaxRetries,
		RetryDelay:    cfg.BypassRetryDelay,
		TTL:           cfg.SessionTTL,
		Headers: map[string]string{
			"User-Agent":       cfg.UserAgent,
			"X-Requested-With": "XMLHttpRequest",
		},
	})

	reg.Register(providers.NewCNCVerse(fetcher, bootstrap, store, log, providers.CNCVerseOptions{
		MainURL:   cfg.CNCVerseMainURL,
		PlayURL:   cfg.CNCVersePlayURL,
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		StreamTTL: cfg.DetailsTTL,
	}))

	reg.Register(providers.NewKartoons(fetcher, log, cfg.KartoonsAPIURL, cfg.BaseURL, cfg.KartoonsKey))

	log.Info("registered providers", "count", len(reg.All()))
}
