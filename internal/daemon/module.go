package daemon

import (
	"context"

	"github.com/matheus3301/wallchat/internal/api"
	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/chat"
	"github.com/matheus3301/wallchat/internal/config"
	"github.com/matheus3301/wallchat/internal/lock"
	"github.com/matheus3301/wallchat/internal/logging"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/poll"
	"github.com/matheus3301/wallchat/internal/prefs"
	"github.com/matheus3301/wallchat/internal/push"
	"github.com/matheus3301/wallchat/internal/rest"
	"github.com/matheus3301/wallchat/internal/retry"
	"github.com/matheus3301/wallchat/internal/session"
	"github.com/matheus3301/wallchat/internal/status"
	"github.com/matheus3301/wallchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return session.SocketPath(p.Account)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Defaults()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			providePrefs,
			provideREST,
			providePush,
			provideMessageStore,
			provideRepository,
			providePolls,
			provideControlService,
			provideHealth,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Account), p.Account, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(session.Dir(p.Account), p.socketPath())
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired", zap.String("path", l.Path()), zap.String("socket", l.Holder().Socket))
	return l, nil
}

// provideStore depends on the lock so that two daemons never migrate the same
// database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Account)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	switch {
	case result.Rebuilt:
		logger.Warn("snapshot schema rebuilt, conversations will be refetched",
			zap.Uint("found_version", result.From),
			zap.Uint("version", result.Version))
	case result.Changed():
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	default:
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func providePrefs(db *store.DB) *prefs.Store {
	return prefs.New(db)
}

func provideREST(p Params, logger *zap.Logger) *rest.Client {
	return rest.NewClient(p.Config.APIBaseURL,
		rest.WithLogger(logger.Named("rest")),
		rest.WithPageSize(p.Config.HistoryPageSize),
		rest.WithToken(p.Config.Token),
	)
}

func providePush(p Params, b *bus.Bus, m *status.Machine, logger *zap.Logger) *push.Client {
	return push.NewClient(p.Config.PushURL, b, m,
		push.WithPolicy(p.Config.RetryPolicy()),
		push.WithLogger(logger.Named("push")),
	)
}

func provideMessageStore() *messages.Store {
	return messages.NewStore()
}

func provideRepository(p Params, ms *messages.Store, rc *rest.Client, pc *push.Client, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *chat.Repository {
	return chat.New(chat.Config{
		SelfID:    p.Config.UserID,
		Store:     ms,
		Fetcher:   rc,
		Transport: pc,
		Snapshots: db,
		Bus:       b,
		Machine:   m,
		Policy:    p.Config.RetryPolicy(),
		Logger:    logger.Named("chat"),
	})
}

func providePolls(p Params, rc *rest.Client, logger *zap.Logger) *poll.Registry {
	return poll.NewRegistry(rc, p.Config.RetryPolicy(), logger.Named("poll"))
}

func provideControlService(p Params, repo *chat.Repository, m *status.Machine, polls *poll.Registry, rc *rest.Client, ps *prefs.Store, b *bus.Bus, logger *zap.Logger) *api.ControlService {
	return api.NewControlService(p.Account, repo, m, polls, rc, ps, b, logger.Named("api"))
}

func provideHealth(b *bus.Bus, m *status.Machine) (*health.Server, *api.HealthReporter) {
	hs := health.NewServer()
	return hs, api.NewHealthReporter(hs, b, m)
}

type lifecycleDeps struct {
	fx.In

	Params Params
	Server *Server
	Lock   *lock.Lock
	DB     *store.DB
	Prefs  *prefs.Store
	Push   *push.Client
	Repo   *chat.Repository
	Health *api.HealthReporter
	Logger *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	cfg := d.Params.Config
	connectCtx, cancelConnect := context.WithCancel(context.Background())
	connected := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Prefs.LoadAll(ctx); err != nil {
				return err
			}
			if err := d.Repo.Restore(); err != nil {
				return err
			}
			if active := d.Prefs.String(api.PrefActiveConversation); active != "" {
				d.Repo.SetActiveConversation(active)
			}

			// Subscribers first, so no connection event is missed.
			d.Repo.Start(context.Background())
			d.Health.Start(context.Background())

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.Token == "" || cfg.UserID == "" {
				d.Logger.Info("no credentials configured, push disabled")
				close(connected)
				return nil
			}
			go func() {
				defer close(connected)
				_, err := retry.Do(connectCtx, cfg.RetryPolicy(), func(ctx context.Context) (struct{}, error) {
					return struct{}{}, d.Push.Connect(ctx, cfg.Token, cfg.UserID)
				}, retry.WithLogger(d.Logger), retry.WithName("push_connect"))
				if err != nil && !neterr.IsCancelled(err) {
					d.Logger.Error("push connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelConnect()
			<-connected
			if err := d.Push.Disconnect(); err != nil {
				d.Logger.Warn("push disconnect", zap.Error(err))
			}
			d.Repo.Stop()
			d.Health.Stop()
			d.Server.Stop(ctx)
			if err := d.Prefs.SaveAll(ctx); err != nil {
				d.Logger.Warn("error saving preferences", zap.Error(err))
			}
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
