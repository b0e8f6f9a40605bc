package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"notify-sync-client/config"
	"notify-sync-client/internal/account"
	"notify-sync-client/internal/api"
	"notify-sync-client/internal/connection"
	"notify-sync-client/internal/db"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/logging"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/notification"
	"notify-sync-client/internal/poller"
	"notify-sync-client/internal/prefs"
	"notify-sync-client/internal/pruner"
	"notify-sync-client/internal/publish"
	"notify-sync-client/internal/push"
	"notify-sync-client/internal/session"
	"notify-sync-client/internal/store"
	"notify-sync-client/internal/subscription"
	"notify-sync-client/internal/topic"
)

// exitStorage is returned when the local store cannot be opened; restarting
// against the same environment will not help.
const exitStorage = 3

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, flush, err := logging.New(cfg.Log, "notifysyncd")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer flush()
	logger.Infow("configuration loaded", "path", configPath, "default_base_url", cfg.Client.DefaultBaseURL)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Errorw("local store unavailable", "dsn", cfg.Database.DSN, "error", err)
		flush()
		if errs.Is(err, errs.Storage) {
			os.Exit(exitStorage)
		}
		os.Exit(1)
	}
	appStore := store.NewGormStore(gormDB)
	logger.Info("local store initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registrar := push.NewWebPushRegistrar(cfg.Push, appStore)
	subs := subscription.NewManager(appStore, registrar, cfg.Client.DefaultBaseURL, logger.Named("subscriptions"))
	userPrefs := prefs.New(appStore)
	sess := session.New(appStore, cfg.Client.DefaultBaseURL, logger.Named("session"))

	if err := seed(ctx, cfg.Client, appStore, subs); err != nil {
		logger.Fatalw("failed to seed configured subscriptions", "error", err)
	}

	accountClient := account.NewClient(cfg.Client.DefaultBaseURL, sess, time.Duration(cfg.Account.CacheTTLSeconds)*time.Second)
	syncer := account.NewSyncer(cfg.Account, accountClient, subs, userPrefs, sess, cfg.Client.DefaultBaseURL, logger.Named("account"))

	var webpushOptions *webpush.Options
	var dispatcher notification.Dispatcher
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger.Named("push"))
		pool.Start(ctx)
		dispatcher = pool
	} else {
		logger.Warn("VAPID keys are not configured, foreground notifications will not be forwarded")
	}
	notifier := notification.NewNotifier(userPrefs, dispatcher, logger.Named("notify"))

	connections := connection.NewManager(appStore, subs, notifier, cfg.Connection, logger.Named("connections"))
	sess.OnReset(func(context.Context) {
		accountClient.Invalidate()
		connections.Trigger()
	})

	pollerSvc := poller.NewService(cfg.Poller, subs, appStore, logger.Named("poller"))
	pollerSvc.OnSync(func(context.Context) { syncer.Trigger() })

	prunerSvc := pruner.NewService(cfg.Pruner, subs, userPrefs, logger.Named("pruner"))

	go connections.Run(ctx)
	go pollerSvc.Run(ctx)
	go prunerSvc.Run(ctx)
	go syncer.Run(ctx)

	router := api.NewRouter(cfg.Server, api.Deps{
		Store:         appStore,
		Subscriptions: subs,
		Prefs:         userPrefs,
		Session:       sess,
		Account:       accountClient,
		Syncer:        syncer,
		Poller:        pollerSvc,
		Publisher:     publish.New(appStore),
		WebPush:       webpushOptions,
		Logger:        logger.Named("api"),
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infow("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("HTTP server ListenAndServe", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("HTTP server Shutdown", "error", err)
	}
	connections.CloseAll()
	syncer.Wait()

	logger.Info("notifysyncd stopped")
}

// seed stores the configured credentials and subscribes to the configured
// topics. Existing subscriptions keep their state.
func seed(ctx context.Context, cfg config.ClientConfig, s store.Store, subs *subscription.Manager) error {
	for _, u := range cfg.Users {
		baseURL := u.BaseURL
		if baseURL == "" {
			baseURL = cfg.DefaultBaseURL
		}
		user := &model.User{
			BaseURL:  topic.NormalizeBaseURL(baseURL),
			Username: u.Username,
			Password: u.Password,
			Token:    u.Token,
		}
		if err := s.SaveUser(ctx, user); err != nil {
			return err
		}
	}

	for _, sc := range cfg.Subscriptions {
		baseURL := sc.BaseURL
		if baseURL == "" {
			baseURL = cfg.DefaultBaseURL
		}
		opts := subscription.Options{NotificationType: model.NotificationType(sc.NotificationType)}
		if sc.DisplayName != "" {
			name := sc.DisplayName
			opts.DisplayName = &name
		}
		if _, err := subs.Add(ctx, baseURL, sc.Topic, opts); err != nil {
			return err
		}
	}
	return nil
}
