package storageutils

import (
	"context"
	"log/slog"

	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/storage/inmemory"
	"github.com/papercomputeco/warden/pkg/storage/postgres"
	"github.com/papercomputeco/warden/pkg/storage/sqlite"
)

type NewHistoryStoreOpts struct {
	SQLitePath  string
	PostgresDSN string
	Logger      *slog.Logger
}

// NewHistoryStore picks postgres, then sqlite, then the in-memory store.
// Config validation rejects setting both.
func NewHistoryStore(ctx context.Context, o *NewHistoryStoreOpts) (memory.HistoryStore, error) {
	switch {
	case o.PostgresDSN != "":
		o.logger().Debug("using postgres history store")
		return postgres.NewDriver(ctx, o.PostgresDSN)
	case o.SQLitePath != "":
		o.logger().Debug("using sqlite history store", "path", o.SQLitePath)
		return sqlite.NewDriver(ctx, o.SQLitePath)
	default:
		o.logger().Debug("using in-memory history store")
		return inmemory.NewDriver(), nil
	}
}

func (o *NewHistoryStoreOpts) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}
