// Package daemon wires the sync engine together: storage, version control,
// write coalescing, publishing, hashing, the peer endpoint and the file
// system watcher.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophsync/internal/activity"
	"github.com/iudanet/gophsync/internal/coalesce"
	"github.com/iudanet/gophsync/internal/collector"
	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/directory"
	"github.com/iudanet/gophsync/internal/hasher"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/peer"
	"github.com/iudanet/gophsync/internal/physical"
	"github.com/iudanet/gophsync/internal/publish"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/storage/boltdb"
	"github.com/iudanet/gophsync/internal/storage/sqlite"
	"github.com/iudanet/gophsync/internal/trans"
	"github.com/iudanet/gophsync/internal/versionctl"
	"github.com/iudanet/gophsync/internal/watch"
)

// Options overrides the environment of the daemon.
type Options struct {
	// Fs holds the sync root, afero.NewOsFs() by default
	Fs afero.Fs
	// Clock drives all timers, the real clock by default
	Clock clockwork.Clock
	// Version is reported by the health endpoint
	Version string
}

// Daemon is a running sync engine of one device.
type Daemon struct {
	ctx         context.Context
	clock       clockwork.Clock
	store       storage.Store
	cfg         *config.Config
	logger      *slog.Logger
	core        *core.Core
	tokens      *core.TokenManager
	txm         *trans.Manager
	collector   *collector.Queue
	versions    *versionctl.Control
	physical    *physical.Storage
	directory   *directory.Service
	activity    *activity.Recorder
	publisher   *publish.Publisher
	coalescer   *coalesce.Coalescer
	hasher      *hasher.Hasher
	broadcaster *peer.Broadcaster
	server      *peer.Server
	cancel      context.CancelFunc
	hashTimers  map[models.VersionedKey]clockwork.Timer
	hashWG      sync.WaitGroup
	rescans     atomic.Int64
	hashMu      sync.Mutex
	closeOnce   sync.Once
	closed      bool
}

// OpenStore opens the storage backend selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverBolt:
		return boltdb.New(ctx, cfg.DBPath())
	case config.DriverSQLite:
		return sqlite.New(ctx, cfg.DBPath())
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// New opens the storage of cfg and builds the engine.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if err := opts.Fs.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sync root: %w", err)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	d, err := build(ctx, cfg, opts, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

func build(ctx context.Context, cfg *config.Config, opts Options, store storage.Store, logger *slog.Logger) (*Daemon, error) {
	dctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		ctx:        dctx,
		cancel:     cancel,
		clock:      opts.Clock,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		hashTimers: make(map[models.VersionedKey]clockwork.Timer),
	}

	d.core = core.New(opts.Clock, logger)
	d.tokens = core.NewTokenManager(d.core, map[core.Category]int64{
		core.CategoryHash:         cfg.Tokens.Hash,
		core.CategoryHousekeeping: cfg.Tokens.Housekeeping,
		core.CategoryNetwork:      cfg.Tokens.Network,
	})
	d.txm = trans.NewManager(store, logger)
	d.collector = collector.New(logger)

	var err error
	d.versions, err = versionctl.New(ctx, store, d.txm, cfg.Device, d.collector, cfg.Versions.AliasCacheSize, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to init version control: %w", err)
	}

	d.physical = physical.New(opts.Fs, cfg.Root, store, opts.Clock)
	d.directory = directory.New(store, d.versions, opts.Clock, logger)

	d.activity = activity.New(store, d.txm, d, opts.Clock, logger)
	d.directory.AddListener(d.activity)
	d.versions.AddListener(d.activity)
	d.versions.AddListener(d)

	d.broadcaster = peer.NewBroadcaster(cfg.Device, cfg.Peer.Peers, cfg.Peer.BroadcastTimeout, logger)
	d.publisher = publish.New(d.core, d.txm, d.versions, store, d.physical, d.broadcaster, publish.Config{
		Delay:   cfg.Engine.PublishDelay,
		Timeout: cfg.Peer.BroadcastTimeout,
	}, logger)
	d.coalescer = coalesce.New(d.core, d.versions, d.publisher, cfg.Engine.ScanInterval, logger)
	d.publisher.OnPublished(d.published)

	digester, err := hasher.NewDigester(cfg.Hash.Algorithm, cfg.Hash.BlockSize)
	if err != nil {
		cancel()
		return nil, err
	}
	d.hasher = hasher.New(d.core, d.tokens, d.txm, store, d.versions, d.physical, digester, logger)

	receiver := peer.NewReceiver(d.core, d.tokens, d.txm, d.versions, cfg.Device, logger)
	d.server = peer.NewServer(peer.ServerConfig{
		Listen:     cfg.Peer.Listen,
		Version:    opts.Version,
		RateLimit:  cfg.Peer.RateLimit,
		RateWindow: cfg.Peer.RateWindow,
	}, cfg.Device, receiver, opts.Clock, logger)

	return d, nil
}

// Device returns the id of this device.
func (d *Daemon) Device() models.DeviceID {
	return d.cfg.Device
}

// PeerHandler returns the HTTP handler of the peer endpoint.
func (d *Daemon) PeerHandler() http.Handler {
	return d.server.Handler()
}

// Run reconciles the sync root with the directory, then serves peers and
// watches the root until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Reconcile(ctx); err != nil {
		return err
	}

	w, err := watch.New(d.cfg.Root, d.physical, d, d.clock, d.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.ListenAndServe()
	})
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		d.collectLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Peer.BroadcastTimeout)
		defer cancel()
		return errors.Join(d.server.Shutdown(shutdownCtx), w.Close())
	})

	d.logger.Info("daemon started",
		"device", d.cfg.Device,
		"root", d.cfg.Root,
		"peers", d.broadcaster.Peers(),
	)
	return g.Wait()
}

// Close stops the background work and closes the storage.
func (d *Daemon) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.hashMu.Lock()
		d.closed = true
		for key, t := range d.hashTimers {
			t.Stop()
			delete(d.hashTimers, key)
		}
		d.hashMu.Unlock()

		d.cancel()
		d.coalescer.Stop()
		d.publisher.Close()
		d.hashWG.Wait()
		d.activity.Wait()

		if cerr := d.store.Close(); cerr != nil {
			err = fmt.Errorf("failed to close storage: %w", cerr)
		}
		d.logger.Info("daemon stopped")
	})
	return err
}

// Rescan is called after activity rows were written.
func (d *Daemon) Rescan() {
	n := d.rescans.Add(1)
	d.logger.Debug("activity log updated", "rescans", n)
}

// LocalVersionAdded queues committed META versions for broadcast. Content
// versions are queued by the publisher and the coalescer.
func (d *Daemon) LocalVersionAdded(t *trans.Trans, key models.VersionedKey, _ crdt.Version) error {
	if key.Component == models.ComponentMeta {
		t.OnCommit(func() { d.publisher.Request(key) })
	}
	return nil
}

// collectLoop логирует ключи с известными, но отсутствующими обновлениями
func (d *Daemon) collectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.collector.Ready():
			keys := d.collector.Drain()
			if len(keys) > 0 {
				d.logger.Info("updates known but missing", "keys", len(keys))
			}
		}
	}
}
