package billing

import (
	"context"
	"errors"
	"fmt"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// PaymentGateway charges penalties to the leader's payment method.
type PaymentGateway interface {
	CreatePenaltyIntent(ctx context.Context, r *models.Request, amount decimal.Decimal, currency string) (string, error)
}

// StripeGateway creates Stripe payment intents for cancellation penalties.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, nil)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{client: sc, log: log}, nil
}

// ToMinorUnits converts an amount to cents for Stripe.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (g *StripeGateway) CreatePenaltyIntent(ctx context.Context, r *models.Request, amount decimal.Decimal, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(ToMinorUnits(amount)),
		Currency:    stripe.String(currency),
		Description: stripe.String(fmt.Sprintf("Cancellation penalty for request %s", r.ID)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("penalty-" + r.ID)
	params.AddMetadata("request_id", r.ID)
	params.AddMetadata("leader_id", r.LeaderID)
	params.AddMetadata("penalty_percent", fmt.Sprintf("%d", r.CancellationPenaltyPercent))

	intent, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create penalty payment intent: %w", err)
	}
	return intent.ID, nil
}

// Charger requests payment of cancellation penalties after they are recorded.
type Charger struct {
	gateway  PaymentGateway
	currency string
	log      *logger.Logger
}

// NewCharger returns a charger; a nil gateway leaves penalties on the ledger only.
func NewCharger(gateway PaymentGateway, currency string, log *logger.Logger) *Charger {
	if currency == "" {
		currency = "usd"
	}
	return &Charger{gateway: gateway, currency: currency, log: log}
}

// ChargePenalty is best effort: the penalty is already on the ledger, so a
// gateway failure is logged and reported but never undoes the cancellation.
func (c *Charger) ChargePenalty(ctx context.Context, r *models.Request) (string, error) {
	if c == nil || c.gateway == nil || !r.CancellationPenaltyAmount.IsPositive() {
		return "", nil
	}
	intentID, err := c.gateway.CreatePenaltyIntent(ctx, r, r.CancellationPenaltyAmount, c.currency)
	if err != nil {
		c.log.Error("BILLING", fmt.Sprintf("Penalty charge for request %s failed: %v", r.ID, err))
		return "", err
	}
	c.log.LogBilling("PENALTY", r.LeaderID, fmt.Sprintf("payment intent %s for %s %s (request %s)",
		intentID, r.CancellationPenaltyAmount.StringFixed(2), c.currency, r.ID))
	return intentID, nil
}
