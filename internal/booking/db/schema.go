package db

import (
	"context"
	"fmt"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// CreateSchema creates the booking tables and their indexes from the models.
// Production schemas come from the SQL migrations; this serves tests and
// local runs against an empty database.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Request)(nil),
		(*models.Offer)(nil),
		(*models.BalanceEntry)(nil),
		(*models.InstrumentRate)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS offers_request_musician_uq ON offers (request_id, musician_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS offers_one_selected_uq ON offers (request_id) WHERE status = 'selected'`,
		`CREATE INDEX IF NOT EXISTS requests_leader_idx ON requests (leader_id)`,
		`CREATE INDEX IF NOT EXISTS requests_open_idx ON requests (status, event_status, event_date)`,
		`CREATE INDEX IF NOT EXISTS balance_entries_user_idx ON balance_entries (user_id)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index failed: %w", err)
		}
	}
	return nil
}
