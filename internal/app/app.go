package app

import (
	"context"
	"log/slog"

	httpapp "github.com/14kear/quickpoll/internal/app/http"
	"github.com/14kear/quickpoll/internal/config"
	"github.com/14kear/quickpoll/internal/handlers"
	"github.com/14kear/quickpoll/internal/middleware"
	"github.com/14kear/quickpoll/internal/repo/inmem"
	"github.com/14kear/quickpoll/internal/repo/postgres"
	"github.com/14kear/quickpoll/internal/services"
)

type storage interface {
	services.PollStorage
	services.VoteLedger
	services.NotificationStorage
}

type App struct {
	HTTPServer *httpapp.App
	Polls      *services.Polls

	notifier        *services.Notifier
	reconciler      *services.Reconciler
	reconcileStop   context.CancelFunc
	closableStorage interface{ Close() error }
}

// NewApp wires storage, the tally aggregator, the change propagator, the
// notification dispatcher and the facade. Without a storage_path the app
// runs entirely in memory (local development).
func NewApp(log *slog.Logger, cfg *config.Config) (*App, error) {
	var (
		store    storage
		closable interface{ Close() error }
	)
	if cfg.StoragePath == "" {
		store = inmem.New(cfg.VotePolicy.SingleVotePerVoter)
	} else {
		pg, err := postgres.New(cfg.StoragePath, cfg.VotePolicy.SingleVotePerVoter)
		if err != nil {
			return nil, err
		}
		store = pg
		closable = pg
	}

	aggregator := services.NewAggregator(log, store)
	propagator := services.NewPropagator(log)
	notifier := services.NewNotifier(log, store,
		cfg.Notifications.SuppressSelfNotify,
		cfg.Notifications.RetryAttempts,
		cfg.Notifications.RetryDelay,
	)
	reconciler := services.NewReconciler(log, aggregator, store, cfg.Reconcile.Interval)

	pollService := services.NewPolls(log, store, store, store, aggregator, propagator, notifier)
	votingHandler := handlers.NewVotingHandler(pollService)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.Secret)

	httpApp := httpapp.NewApp(log, cfg.HTTP.Port, votingHandler, authMiddleware.Middleware())

	reconcileCtx, cancel := context.WithCancel(context.Background())
	go reconciler.Run(reconcileCtx)

	return &App{
		HTTPServer:      httpApp,
		Polls:           pollService,
		notifier:        notifier,
		reconciler:      reconciler,
		reconcileStop:   cancel,
		closableStorage: closable,
	}, nil
}

func (a *App) Stop(ctx context.Context) error {
	if err := a.HTTPServer.Stop(ctx); err != nil {
		return err
	}

	a.reconcileStop()
	a.notifier.Close()

	if a.closableStorage != nil {
		return a.closableStorage.Close()
	}
	return nil
}
