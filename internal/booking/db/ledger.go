package db

import (
	"context"
	"fmt"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------- INSTRUMENT RATES ----------------

func (d *DB) GetRate(ctx context.Context, instrument string) (*models.InstrumentRate, error) {
	var rate models.InstrumentRate
	err := d.Bun.NewSelect().
		Model(&rate).
		Where("instrument = ?", instrument).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("get rate", "instrument rate", instrument, err)
	}
	return &rate, nil
}

func (d *DB) ListRates(ctx context.Context) ([]models.InstrumentRate, error) {
	rates := []models.InstrumentRate{}
	if err := d.Bun.NewSelect().Model(&rates).Order("instrument ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	return rates, nil
}

// UpsertRate → insert or replace the hourly rate for an instrument
func (d *DB) UpsertRate(ctx context.Context, rate *models.InstrumentRate) error {
	rate.UpdatedAt = utils.DBTime(time.Now())
	_, err := d.Bun.NewInsert().
		Model(rate).
		On("CONFLICT (instrument) DO UPDATE").
		Set("hourly_rate = EXCLUDED.hourly_rate").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert rate %s: %w", rate.Instrument, err)
	}
	return nil
}

// ---------------- BALANCES ----------------

func (d *DB) InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error {
	entries := []models.BalanceEntry{*entry}
	if err := insertEntries(ctx, d.Bun, entries); err != nil {
		return err
	}
	*entry = entries[0]
	return nil
}

// ListBalances → every user with at least one ledger entry and their running balance
func (d *DB) ListBalances(ctx context.Context) ([]models.Balance, error) {
	balances := []models.Balance{}
	err := d.Bun.NewSelect().
		Model((*models.BalanceEntry)(nil)).
		ColumnExpr("user_id").
		ColumnExpr("SUM(amount) AS balance").
		ColumnExpr("COUNT(*) AS entries").
		Group("user_id").
		Order("user_id ASC").
		Scan(ctx, &balances)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	for i := range balances {
		balances[i].Balance = balances[i].Balance.Round(2)
	}
	return balances, nil
}

func (d *DB) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	entries, err := d.ListBalanceEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return &models.Balance{UserID: userID, Balance: total.Round(2), Entries: len(entries)}, nil
}

func (d *DB) ListBalanceEntries(ctx context.Context, userID string) ([]models.BalanceEntry, error) {
	entries := []models.BalanceEntry{}
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list balance entries for %s: %w", userID, err)
	}
	return entries, nil
}
