package pricing

import (
	"context"
	"errors"
	"fmt"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"strings"

	"github.com/shopspring/decimal"
)

// RateSource looks up the hourly rate configured for an instrument.
type RateSource interface {
	GetRate(ctx context.Context, instrument string) (*models.InstrumentRate, error)
}

// Estimate is the priced breakdown of a request.
type Estimate struct {
	Instrument string          `json:"instrument"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Hours      decimal.Decimal `json:"hours"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	// DefaultRate is set when no rate was configured for the instrument.
	DefaultRate bool `json:"default_rate"`
}

// Estimator computes estimated base amounts as hourly rate times event length.
type Estimator struct {
	rates       RateSource
	engine      *lifecycle.Engine
	defaultRate decimal.Decimal
	logger      *logger.Logger
}

func NewEstimator(rates RateSource, engine *lifecycle.Engine, defaultRate decimal.Decimal, log *logger.Logger) *Estimator {
	return &Estimator{
		rates:       rates,
		engine:      engine,
		defaultRate: defaultRate,
		logger:      log,
	}
}

// NormalizeInstrument is the key instrument rates are stored under.
func NormalizeInstrument(instrument string) string {
	return strings.ToLower(strings.TrimSpace(instrument))
}

func (e *Estimator) Estimate(ctx context.Context, r *models.Request) (*Estimate, error) {
	start, err := e.engine.EventStart(r)
	if err != nil {
		return nil, models.Validation("estimate amount", "%v", err)
	}
	end, err := e.engine.EventEnd(r)
	if err != nil {
		return nil, models.Validation("estimate amount", "%v", err)
	}

	instrument := NormalizeInstrument(r.RequiredInstrument)
	est := &Estimate{
		Instrument: instrument,
		HourlyRate: e.defaultRate,
		Hours:      decimal.NewFromFloat(end.Sub(start).Minutes()).Div(decimal.NewFromInt(60)).Round(2),
	}

	rate, err := e.rates.GetRate(ctx, instrument)
	switch {
	case err == nil:
		est.HourlyRate = rate.HourlyRate
	case errors.Is(err, models.ErrNotFound):
		est.DefaultRate = true
		e.logger.Debug("PRICING", fmt.Sprintf("No rate for %q, using default %s", instrument, e.defaultRate.StringFixed(2)))
	default:
		return nil, fmt.Errorf("failed to load rate for %s: %w", instrument, err)
	}

	est.BaseAmount = est.HourlyRate.Mul(est.Hours).Round(2)
	return est, nil
}
