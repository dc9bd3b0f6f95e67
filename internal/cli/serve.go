package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datamask/internal/api"
	"datamask/internal/apiclient"
	"datamask/internal/auth"
	"datamask/internal/ledger"
	"datamask/internal/logging"
	"datamask/internal/redis"
	"datamask/internal/service/account"
	"datamask/internal/service/upload"
	"datamask/internal/storage"
	"datamask/internal/worker"
)

const sessionCleanInterval = time.Hour

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *options) error {
	cfg, logger := opts.cfg, opts.logger
	basic := cfg.BasicConfig

	db, err := storage.Open(basic.Database, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, basic.Database); err != nil {
		return err
	}
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var authService *auth.Service
	client := apiclient.New(basic.APIBaseURL, time.Duration(basic.APITimeoutSeconds)*time.Second,
		apiclient.WithLogger(logger.Named("apiclient")),
		apiclient.WithTokenFunc(func(ctx context.Context) string { return authService.TokenFor(ctx) }),
	)
	authService = auth.NewService(db, rdb, client, time.Duration(basic.SessionTTLHours)*time.Hour, logger.Named("auth"))
	authService.SetSecureCookies(basic.SecureCookies)
	authService.StartCleaner(ctx, sessionCleanInterval)

	dispatcher := worker.NewDispatcher(basic.MaxWorkers, basic.QueueSize, logger.Named("worker"))
	defer dispatcher.Stop()

	guard := auth.NewInFlight()
	uploads := upload.NewFlow(client, upload.NewStore(db), dispatcher, guard, upload.Options{
		Simulate:       basic.SimulateProcessing,
		SimulateDelay:  time.Duration(basic.SimulateDelayMillis) * time.Millisecond,
		EnforceLimits:  basic.EnforceUploadLimits,
		MaxUploadBytes: int64(basic.MaxUploadMB) << 20,
	}, logger.Named("upload"))

	ledgerClient, closeLedger := openLedger(ctx, opts)
	defer closeLedger()
	if err := ledgerClient.Watch(ctx); err != nil {
		logger.Warn("watch wallet accounts", zap.Error(err))
	}

	handler, err := api.NewHandler(api.Deps{
		Auth:     authService,
		Accounts: account.NewFlow(authService, guard, logger.Named("account")),
		Uploads:  uploads,
		Ledger:   ledgerClient,
		Profiles: client,
		OAuthURL: basic.OAuthURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(logger.Named("http")))
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening",
		zap.String("addr", basic.ServerAddress),
		zap.String("api", basic.APIBaseURL),
		zap.Bool("simulate", basic.SimulateProcessing),
	)
	return runServer(ctx, srv)
}

// openLedger returns a client even without a wallet; its calls then fail with
// ledger.ErrProviderNotFound.
func openLedger(ctx context.Context, opts *options) (*ledger.Client, func()) {
	logger := opts.logger.Named("ledger")
	provider, err := ledger.NewEthProvider(ctx, opts.cfg.Ledger)
	if err != nil {
		if !errors.Is(err, ledger.ErrProviderNotFound) {
			logger.Warn("ledger provider unavailable", zap.Error(err))
		}
		return ledger.NewClient(nil, logger), func() {}
	}
	return ledger.NewClient(provider, logger), provider.Close
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
