package runs

import (
	"context"

	"mvrender/internal/config"
)

// Open returns the ledger selected by cfg, or Nop when none is configured.
func Open(ctx context.Context, cfg config.LedgerConfig) (Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case cfg.SQLitePath != "":
		return OpenSQLite(cfg.SQLitePath)
	default:
		return Nop{}, nil
	}
}
