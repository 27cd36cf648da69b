// Package database opens the SQLite store with the tuning the engine
// expects: WAL journaling, 4 KiB pages, a 64 MiB page cache, 256 MiB of
// memory-mapped reads, synchronous NORMAL, and a 10 s busy timeout. Writes
// ride through a connector that retries SQLITE_BUSY with backoff.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tinyopds/tinyopds/pkg/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type key int

const ctxKey key = 0

// KeepaliveInterval is how often the keepalive loop pings the store.
const KeepaliveInterval = 30 * time.Second

func WithLogging(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey, true)
}

type logQueryHook struct {
	log logger.Logger
}

func (*logQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (qh *logQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	enabled, ok := ctx.Value(ctxKey).(bool)
	if !ok || !enabled {
		return
	}

	qh.log.Debug(event.Query)
}

// tuningPragmas is applied at open and reapplied after a keepalive
// reconnect. page_size must precede journal_mode so it takes effect on a
// fresh database file.
var tuningPragmas = []string{
	"PRAGMA page_size=4096",
	"PRAGMA journal_mode=WAL",
	"PRAGMA cache_size=-65536",   // 64 MiB
	"PRAGMA mmap_size=268435456", // 256 MiB
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

func applyTuning(db *bun.DB, busyTimeout time.Duration) error {
	for _, pragma := range tuningPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=?", busyTimeout.Milliseconds()); err != nil {
		return errors.Wrap(err, "failed to set busy_timeout")
	}
	return nil
}

// CheckFTS5Support verifies FTS5 is available in the SQLite build. Search
// and the schema triggers depend on it, so this runs before migrations.
func CheckFTS5Support(db *bun.DB) error {
	_, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS _fts5_check USING fts5(test)")
	if err != nil {
		return errors.New("FTS5 is not enabled on this SQLite build; full-text search cannot work")
	}
	_, _ = db.Exec("DROP TABLE IF EXISTS _fts5_check")
	return nil
}

func New(cfg *config.Config) (*bun.DB, error) {
	// Get the underlying SQLite driver and create a connector with retry logic.
	drv := sqliteshim.Driver()
	drvCtx, ok := drv.(interface {
		OpenConnector(name string) (driver.Connector, error)
	})
	if !ok {
		return nil, errors.New("sqlite driver does not support OpenConnector")
	}
	connector, err := drvCtx.OpenConnector(cfg.DatabaseFilePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	retryConnector := newRetryConnector(connector, cfg.DatabaseMaxRetries)
	sqldb := sql.OpenDB(retryConnector)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	// print out all queries in debug mode
	if cfg.DatabaseDebug {
		db.AddQueryHook(&logQueryHook{logger.NewWithLevel("debug")})
	}

	// Retry up to a few times to ensure that the database can connect.
	for i := 0; i < cfg.DatabaseConnectRetryCount; i++ {
		_, err = db.Exec("SELECT 1")
		if err != nil {
			time.Sleep(cfg.DatabaseConnectRetryDelay)
			continue
		}
		break
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := applyTuning(db, cfg.DatabaseBusyTimeout); err != nil {
		return nil, err
	}

	return db, nil
}

// RelaxForBulkLoad trades durability for batch-insert throughput and returns
// a restore function. Callers must defer the restore so the normal pragmas
// come back even when the load fails.
func RelaxForBulkLoad(ctx context.Context, db *bun.DB) (func(), error) {
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=OFF"); err != nil {
		return nil, errors.Wrap(err, "failed to relax synchronous")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=MEMORY"); err != nil {
		// Roll back the half-applied relaxation before reporting.
		_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL")
		return nil, errors.Wrap(err, "failed to relax journal_mode")
	}

	restore := func() {
		log := logger.FromContext(ctx)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			log.Err(err).Error("failed to restore journal_mode")
		}
		if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
			log.Err(err).Error("failed to restore synchronous")
		}
	}
	return restore, nil
}

// Keepalive pings the store on a fixed interval until ctx is cancelled.
// database/sql replaces broken pooled connections on the next use, so after
// a failed ping we reapply the tuning pragmas once the store answers again.
func Keepalive(ctx context.Context, db *bun.DB, cfg *config.Config) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := db.PingContext(ctx)
			if err == nil {
				continue
			}
			log.Err(err).Error("database ping failed")
			if err := db.PingContext(ctx); err != nil {
				continue
			}
			if err := applyTuning(db, cfg.DatabaseBusyTimeout); err != nil {
				log.Err(err).Error("failed to reapply pragmas after reconnect")
			}
		}
	}
}
