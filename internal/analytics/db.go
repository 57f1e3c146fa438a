package analytics

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// GroupCount is one row of a GROUP BY ... COUNT(*) query.
type GroupCount struct {
	Key   string `bun:"bucket" json:"key"`
	Count int    `bun:"count" json:"count"`
}

// KindTotal is the ledger sum for one entry kind.
type KindTotal struct {
	Kind    string          `bun:"kind" json:"kind"`
	Total   decimal.Decimal `bun:"total" json:"total"`
	Entries int             `bun:"entries" json:"entries"`
}

// CountRequestsBy counts requests grouped by column, which must be a trusted column name.
func (db *DB) CountRequestsBy(ctx context.Context, column string) ([]GroupCount, error) {
	var rows []GroupCount
	err := db.bun.NewSelect().
		TableExpr("requests").
		ColumnExpr("? AS bucket", bun.Ident(column)).
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("?", bun.Ident(column)).
		OrderExpr("? ASC", bun.Ident(column)).
		Scan(ctx, &rows)
	return rows, err
}

// CountOffersByStatus counts offers per status
func (db *DB) CountOffersByStatus(ctx context.Context) ([]GroupCount, error) {
	var rows []GroupCount
	err := db.bun.NewSelect().
		TableExpr("offers").
		ColumnExpr("status AS bucket").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("status").
		OrderExpr("status ASC").
		Scan(ctx, &rows)
	return rows, err
}

// TopInstruments returns the most requested instruments, case-insensitively
func (db *DB) TopInstruments(ctx context.Context, limit int) ([]GroupCount, error) {
	var rows []GroupCount
	err := db.bun.NewSelect().
		TableExpr("requests").
		ColumnExpr("LOWER(required_instrument) AS bucket").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("LOWER(required_instrument)").
		OrderExpr("count DESC, bucket ASC").
		Limit(limit).
		Scan(ctx, &rows)
	return rows, err
}

// UpcomingByDate counts scheduled events per event date from fromDate on
func (db *DB) UpcomingByDate(ctx context.Context, fromDate string) ([]GroupCount, error) {
	var rows []GroupCount
	err := db.bun.NewSelect().
		TableExpr("requests").
		ColumnExpr("event_date AS bucket").
		ColumnExpr("COUNT(*) AS count").
		Where("event_status = ?", "scheduled").
		Where("event_date >= ?", fromDate).
		GroupExpr("event_date").
		OrderExpr("event_date ASC").
		Scan(ctx, &rows)
	return rows, err
}

// LedgerTotals sums balance entries per kind
func (db *DB) LedgerTotals(ctx context.Context) ([]KindTotal, error) {
	var rows []KindTotal
	err := db.bun.NewSelect().
		TableExpr("balance_entries").
		ColumnExpr("kind").
		ColumnExpr("SUM(amount) AS total").
		ColumnExpr("COUNT(*) AS entries").
		GroupExpr("kind").
		OrderExpr("kind ASC").
		Scan(ctx, &rows)
	return rows, err
}
