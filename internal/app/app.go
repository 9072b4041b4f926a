package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"campuschat/internal/account"
	"campuschat/internal/authstate"
	"campuschat/internal/chatstate"
	"campuschat/internal/config"
	"campuschat/internal/controller"
	"campuschat/internal/i18n"
	"campuschat/internal/ratelimit"
	"campuschat/pkg/apiclient"
	"campuschat/pkg/store"
)

// Config holds runtime configuration for the client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	Locale         string
	Storage        store.Config

	SendLimitPerMinute int
	RateLimitBackend   string
	RedisAddr          string
	RedisPassword      string
	RedisPrefix        string

	// Store and HTTPClient replace the configured ones when set.
	Store      store.Store
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// FromFile maps the loaded file config onto Config.
func FromFile(cfg config.FileConfig) Config {
	return Config{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout(),
		Locale:         cfg.Locale,
		Storage: store.Config{
			Driver:        store.Driver(cfg.StoreDriver),
			Dir:           cfg.DataDir,
			Namespace:     cfg.Profile,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisPrefix:   cfg.RedisPrefix,
			DatabaseURL:   cfg.DatabaseURL,
		},
		SendLimitPerMinute: cfg.SendRateLimitPerMinute,
		RateLimitBackend:   cfg.RateLimitBackend,
		RedisAddr:          cfg.RedisAddr,
		RedisPassword:      cfg.RedisPassword,
		RedisPrefix:        cfg.RedisPrefix,
	}
}

// App wires storage, the backend client and the page logic together.
type App struct {
	Store      store.Store
	API        *apiclient.Client
	Auth       *authstate.State
	Chat       *chatstate.State
	Controller *controller.Controller
	Account    *account.Service
	Router     *Router
	Texts      i18n.Catalog

	limiter *ratelimit.FixedWindowLimiter
	logger  *slog.Logger
}

// New constructs the application. Call Start before use and Close after.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	texts := i18n.Lookup(cfg.Locale)

	dataStore := cfg.Store
	if dataStore == nil {
		var err error
		dataStore, err = store.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	a := &App{
		Store:  dataStore,
		Texts:  texts,
		Router: NewRouter(RouteLogin),
		logger: logger,
	}
	a.Auth = authstate.New(dataStore, logger)
	a.Chat = chatstate.New(dataStore, logger, chatstate.WithNewChatTitle(texts.NewChatTitle))

	opts := []apiclient.Option{
		apiclient.WithTokenSource(a.Auth),
		apiclient.WithUnauthorizedHandler(a.handleUnauthorized),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, apiclient.WithHTTPClient(cfg.HTTPClient))
	}
	a.API = apiclient.NewClient(cfg.BaseURL, cfg.RequestTimeout, opts...)

	limiter, err := newLimiter(cfg)
	if err != nil {
		_ = dataStore.Close()
		return nil, err
	}
	a.limiter = limiter

	ctrlCfg := controller.Config{
		API:      a.API,
		Chat:     a.Chat,
		Texts:    texts,
		Logger:   logger,
		LimitKey: a.userKey,
	}
	if limiter != nil {
		ctrlCfg.Limiter = limiter
	}
	a.Controller = controller.New(ctrlCfg)
	a.Account = account.New(a.API, a.Auth, logger)
	return a, nil
}

func newLimiter(cfg Config) (*ratelimit.FixedWindowLimiter, error) {
	if cfg.SendLimitPerMinute <= 0 {
		return nil, nil
	}
	var (
		limiter *ratelimit.FixedWindowLimiter
		err     error
	)
	if cfg.RateLimitBackend == "redis" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix+":ratelimit:send", cfg.SendLimitPerMinute, time.Minute)
	} else {
		limiter, err = ratelimit.NewFixedWindowLimiter(cfg.SendLimitPerMinute, time.Minute)
	}
	if err != nil {
		return nil, fmt.Errorf("init send limiter: %w", err)
	}
	return limiter, nil
}

// Start restores credentials and picks the initial route.
func (a *App) Start(ctx context.Context) error {
	err := a.Auth.Restore(ctx)
	if a.Auth.IsAuthenticated() {
		a.Router.Navigate(RouteChat)
	} else {
		a.Router.Navigate(RouteLogin)
	}
	if err != nil {
		return fmt.Errorf("restore credentials: %w", err)
	}
	return nil
}

// Navigate moves to route, sending signed-out users to login instead of chat.
func (a *App) Navigate(to Route) {
	if to == RouteChat && !a.Auth.IsAuthenticated() {
		to = RouteLogin
	}
	a.Router.Navigate(to)
}

// Close releases the store and limiter.
func (a *App) Close() error {
	return errors.Join(a.Store.Close(), a.limiter.Close())
}

func (a *App) handleUnauthorized(ctx context.Context) {
	a.Auth.Expire(ctx)
	a.Router.Navigate(RouteLogin)
}

func (a *App) userKey() string {
	if user, ok := a.Auth.User(); ok {
		return user.ID.String()
	}
	return ""
}
