// Package watch polls the anchor store for out-of-band writes. The HTTP
// API, the MCP tools, or another process sharing the database file can
// mutate anchors while document sessions are open; the watcher notices
// and gives the service a hook to push those changes into live sessions.
//
// Typical usage:
//
//	w := watch.New(db, watch.Options{Interval: time.Second, Debounce: 250 * time.Millisecond})
//	go w.OnChange(ctx, func() error { return svc.SyncSessions(ctx) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token from the database. Two calls that
// return different values mean "something changed". int64 maps naturally
// onto PRAGMA data_version or a MAX(updated_at) query.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action
	// fires; further changes inside the window reset the timer. A burst
	// of anchor writes (an import, a repair sweep) then triggers a single
	// session sync. 0 fires immediately. Default: 0.
	Debounce time.Duration
	// Detector overrides the default PragmaDataVersion detector.
	Detector ChangeDetector
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls the store and runs an action when anchors changed
// underneath it. Safe for concurrent use.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	syncs   atomic.Int64
	syncNs  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Syncs           int64         `json:"syncs"`
	AvgSyncTime     time.Duration `json:"avg_sync_time"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Syncs:           w.syncs.Load(),
	}
	if s.Syncs > 0 {
		s.AvgSyncTime = time.Duration(w.syncNs.Load() / s.Syncs)
	}
	return s
}

// Version returns the last observed version token.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled, polling at opts.Interval.
// When the detector reports a new version and the debounce window passes
// quietly, action is called.
//
// If action returns an error the version is NOT advanced, so the sync is
// retried on the next poll cycle.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	// Seed the baseline so a pre-existing database does not fire a
	// spurious sync at startup.
	v, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pendingVersion := int64(-1)

	log.Info("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur != w.version.Load() && cur != pendingVersion {
				w.changes.Add(1)
				pendingVersion = cur

				if w.opts.Debounce <= 0 {
					w.fire(log, action, pendingVersion)
					pendingVersion = -1
				} else {
					// Reset only when the pending version actually moved,
					// not on every poll cycle.
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(w.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("watch: change detected, debouncing", "pending_version", cur)
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pendingVersion >= 0 {
				w.fire(log, action, pendingVersion)
				pendingVersion = -1
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error, ver int64) {
	log.Info("watch: syncing sessions", "old_version", w.version.Load(), "new_version", ver)
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: sync failed", "error", err, "version", ver)
		return
	}
	elapsed := time.Since(start)
	w.syncs.Add(1)
	w.syncNs.Add(int64(elapsed))
	w.version.Store(ver)
	log.Info("watch: sync complete", "version", ver, "duration", elapsed)
}

// PragmaDataVersion uses PRAGMA data_version, which increments whenever
// another connection writes to the same database file. It sees
// cross-process and cross-connection mutations, which is exactly the
// out-of-band write case the watcher exists for.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PagesUpdatedAt polls the newest page timestamp. Unlike data_version it
// also observes writes made through this same connection pool, at the
// cost of missing deletes of already-reaped pages.
func PagesUpdatedAt(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(updated_at), 0) FROM pages`).Scan(&v)
	return v, err
}
