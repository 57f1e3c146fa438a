package db

import (
	"context"
	"fmt"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"time"

	"github.com/uptrace/bun"
)

// ---------------- OFFERS ----------------

// CreateOffer → insert a new offer. A second offer from the same musician on
// the same request is a conflict.
func (d *DB) CreateOffer(ctx context.Context, offer *models.Offer) error {
	now := utils.DBTime(time.Now())
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = now
	}
	offer.UpdatedAt = offer.CreatedAt
	offer.Version = 1
	if _, err := d.Bun.NewInsert().Model(offer).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return models.Conflict("submit offer", "you have already submitted an offer for this request", err)
		}
		return fmt.Errorf("failed to insert offer %s: %w", offer.ID, err)
	}
	return nil
}

func (d *DB) GetOfferByID(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	err := d.Bun.NewSelect().
		Model(&offer).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("get offer", "offer", id, err)
	}
	return &offer, nil
}

func (d *DB) ListOffersByRequest(ctx context.Context, requestID string) ([]models.Offer, error) {
	offers := []models.Offer{}
	err := d.Bun.NewSelect().
		Model(&offers).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for request %s: %w", requestID, err)
	}
	return offers, nil
}

func (d *DB) ListOffersByMusician(ctx context.Context, musicianID string) ([]models.Offer, error) {
	offers := []models.Offer{}
	err := d.Bun.NewSelect().
		Model(&offers).
		Where("musician_id = ?", musicianID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for musician %s: %w", musicianID, err)
	}
	return offers, nil
}

// SaveOfferTransition writes offer (and req, when not nil) in one transaction,
// each guarded by its expected version.
func (d *DB) SaveOfferTransition(ctx context.Context, offer *models.Offer, expectedOfferVersion int, req *models.Request, expectedRequestVersion int) error {
	now := utils.DBTime(time.Now())
	updatedOffer := *offer
	updatedOffer.Version = expectedOfferVersion + 1
	updatedOffer.UpdatedAt = now

	var updatedReq models.Request
	if req != nil {
		updatedReq = *req
		updatedReq.Version = expectedRequestVersion + 1
		updatedReq.UpdatedAt = now
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(&updatedOffer).
			ExcludeColumn("id", "request_id", "musician_id", "created_at").
			Where("id = ?", updatedOffer.ID).
			Where("version = ?", expectedOfferVersion).
			Exec(ctx)
		if err != nil {
			if isUniqueViolation(err) {
				return models.Conflict("save offer", "another offer has already been selected for this request", err)
			}
			return fmt.Errorf("failed to update offer %s: %w", updatedOffer.ID, err)
		}
		if rowsAffected(res) == 0 {
			return models.Conflict("save offer", "the offer was modified by someone else, reload and try again", nil)
		}
		if req == nil {
			return nil
		}
		return updateRequestCAS(ctx, tx, &updatedReq, expectedRequestVersion)
	})
	if err != nil {
		return err
	}
	*offer = updatedOffer
	if req != nil {
		*req = updatedReq
	}
	return nil
}
