package db

import (
	"context"
	"fmt"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"time"

	"github.com/uptrace/bun"
)

// ---------------- REQUESTS ----------------

// CreateRequest → insert a new request at version 1
func (d *DB) CreateRequest(ctx context.Context, req *models.Request) error {
	now := utils.DBTime(time.Now())
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	req.Version = 1
	if _, err := d.Bun.NewInsert().Model(req).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert request %s: %w", req.ID, err)
	}
	return nil
}

// GetRequestByID → fetch one request by its ID
func (d *DB) GetRequestByID(ctx context.Context, id string) (*models.Request, error) {
	var req models.Request
	err := d.Bun.NewSelect().
		Model(&req).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("get request", "request", id, err)
	}
	return &req, nil
}

// ListRequests → requests matching filter, soonest event first
func (d *DB) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	requests := []models.Request{}
	q := d.Bun.NewSelect().Model(&requests)

	if filter.LeaderID != "" {
		q = q.Where("leader_id = ?", filter.LeaderID)
	}
	switch {
	case filter.MusicianID != "" && filter.OpenOnly:
		// Open requests plus everything the musician is booked for.
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("status = ?", models.RequestActive).
						Where("event_status = ?", models.EventScheduled)
				}).
				WhereOr("assignment_musician_id = ?", filter.MusicianID).
				WhereOr("started_by_musician_id = ?", filter.MusicianID)
		})
	case filter.MusicianID != "":
		q = q.Where("assignment_musician_id = ?", filter.MusicianID)
	case filter.OpenOnly:
		q = q.Where("status = ?", models.RequestActive).
			Where("event_status = ?", models.EventScheduled)
	}
	if filter.Instrument != "" {
		q = q.Where("LOWER(required_instrument) = LOWER(?)", filter.Instrument)
	}
	if filter.FromDate != "" {
		q = q.Where("event_date >= ?", filter.FromDate)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.EventStatus != "" {
		q = q.Where("event_status = ?", filter.EventStatus)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	err := q.Order("event_date ASC", "start_time ASC", "created_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// SaveRequestTransition writes req if its stored version still equals
// expectedVersion, and appends entries in the same transaction. On success
// req carries the new version.
func (d *DB) SaveRequestTransition(ctx context.Context, req *models.Request, expectedVersion int, entries ...models.BalanceEntry) error {
	updated := *req
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = utils.DBTime(time.Now())

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := updateRequestCAS(ctx, tx, &updated, expectedVersion); err != nil {
			return err
		}
		return insertEntries(ctx, tx, entries)
	})
	if err != nil {
		return err
	}
	*req = updated
	return nil
}

func updateRequestCAS(ctx context.Context, db bun.IDB, req *models.Request, expectedVersion int) error {
	res, err := db.NewUpdate().
		Model(req).
		ExcludeColumn("id", "leader_id", "created_at").
		Where("id = ?", req.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", req.ID, err)
	}
	if rowsAffected(res) == 0 {
		return models.Conflict("save request", "the request was modified by someone else, reload and try again", nil)
	}
	return nil
}

func insertEntries(ctx context.Context, db bun.IDB, entries []models.BalanceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = utils.NewID()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = utils.DBTime(time.Now())
		}
	}
	if _, err := db.NewInsert().Model(&entries).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert balance entries: %w", err)
	}
	return nil
}
