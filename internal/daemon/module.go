// Package daemon composes the bridge daemon out of its components using fx.
package daemon

import (
	"context"

	"github.com/pushbridge/pushbridge/internal/admin"
	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/config"
	"github.com/pushbridge/pushbridge/internal/directory"
	"github.com/pushbridge/pushbridge/internal/dispatch"
	"github.com/pushbridge/pushbridge/internal/groups"
	"github.com/pushbridge/pushbridge/internal/lock"
	"github.com/pushbridge/pushbridge/internal/logging"
	"github.com/pushbridge/pushbridge/internal/mailbox"
	"github.com/pushbridge/pushbridge/internal/mailbox/mailboxdb"
	"github.com/pushbridge/pushbridge/internal/outqueue"
	"github.com/pushbridge/pushbridge/internal/pending"
	"github.com/pushbridge/pushbridge/internal/profile"
	"github.com/pushbridge/pushbridge/internal/receiver"
	"github.com/pushbridge/pushbridge/internal/refresh"
	"github.com/pushbridge/pushbridge/internal/sender"
	"github.com/pushbridge/pushbridge/internal/status"
	"github.com/pushbridge/pushbridge/internal/store"
	"github.com/pushbridge/pushbridge/internal/transport"
	"github.com/pushbridge/pushbridge/internal/transport/loopback"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ConfigPath  string // optional override for testing; empty = use default
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMailboxDB,
			provideSink,
			provideLookupClient,
			provideTransport,
			provideDirectory,
			provideRegistry,
			providePendingQueue,
			provideOutqueue,
			provideReceiver,
			provideSender,
			provideDispatch,
			provideRefresher,
			provideAdminHandler,
			provideAdminServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StateDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("state store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMailboxDB(p Params, logger *zap.Logger) (*mailboxdb.DB, error) {
	dbPath := profile.MailboxDBPath(p.ProfileName)
	db, err := mailboxdb.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("mailbox initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSink(p Params, db *mailboxdb.DB) mailbox.Sink {
	return mailboxdb.NewStore(db, profile.AttachmentsDir(p.ProfileName))
}

func provideLookupClient(cfg *config.Config, logger *zap.Logger) directory.LookupClient {
	if cfg.Lookup.BaseURL == "" {
		logger.Warn("no lookup service configured, running directory offline")
		return directory.NullClient{}
	}
	return directory.NewHTTPLookupClient(cfg.Lookup.BaseURL, cfg.Lookup.Token, cfg.Lookup.Timeout.Duration)
}

// provideTransport wires the built-in loopback transport. A production
// deployment swaps this provider for one backed by a real ratchet stack.
func provideTransport() (*loopback.Loopback, transport.Transport, transport.Retriever) {
	l := loopback.New()
	return l, l, l
}

func provideDirectory(db *store.DB, client directory.LookupClient, cfg *config.Config, logger *zap.Logger) *directory.Directory {
	return directory.New(db, client, cfg.CountryPrefix, logger)
}

func provideRegistry(db *store.DB) *groups.Registry {
	return groups.NewRegistry(db)
}

func providePendingQueue(db *store.DB) *pending.Queue {
	return pending.NewQueue(db)
}

func provideOutqueue() *outqueue.Queue {
	return outqueue.New()
}

func provideReceiver(
	ret transport.Retriever,
	t transport.Transport,
	d *directory.Directory,
	r *groups.Registry,
	p *pending.Queue,
	sink mailbox.Sink,
	cfg *config.Config,
	b *bus.Bus,
	logger *zap.Logger,
) *receiver.Receiver {
	return receiver.New(ret, t, d, r, p, sink,
		receiver.NewStaticBlacklist(cfg.Blacklist), b, cfg.LocalNumber, logger)
}

func provideSender(
	d *directory.Directory,
	r *groups.Registry,
	sink mailbox.Sink,
	t transport.Transport,
	cfg *config.Config,
	b *bus.Bus,
	logger *zap.Logger,
) *sender.Sender {
	return sender.New(d, r, sink, t, b, cfg.LocalNumber, cfg.CountryPrefix, logger)
}

func provideDispatch(
	r *receiver.Receiver,
	s *sender.Sender,
	q *outqueue.Queue,
	p *pending.Queue,
	b *bus.Bus,
	logger *zap.Logger,
) *dispatch.Service {
	return dispatch.New(r, s, q, p, b, logger)
}

func provideRefresher(d *directory.Directory, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *refresh.Refresher {
	source := &refresh.MergedSource{Seeds: cfg.RefreshSeeds, Directory: d}
	return refresh.New(d, source, b, cfg.RefreshInterval.Duration, logger)
}

func provideAdminHandler(
	p Params,
	m *status.Machine,
	svc *dispatch.Service,
	pq *pending.Queue,
	q *outqueue.Queue,
	db *store.DB,
	r *refresh.Refresher,
	logger *zap.Logger,
) *admin.Handler {
	return admin.NewHandler(p.ProfileName, m, svc, pq, q, db, r, logger)
}

func provideAdminServer(p Params, h *admin.Handler, logger *zap.Logger) (*admin.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}
	return admin.NewServer(socketPath, h, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *admin.Server,
	lk *lock.Lock,
	svc *dispatch.Service,
	refresher *refresh.Refresher,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			svc.Start(context.Background())
			refresher.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()

			if err := machine.Transition(status.Ready); err != nil {
				return err
			}
			logger.Info("daemon ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Draining)
			refresher.Stop()
			svc.Stop()
			srv.Stop(ctx)
			_ = machine.Transition(status.Stopped)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
