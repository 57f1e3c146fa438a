package booking_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"ms-booking/internal/analytics"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/db"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/pricing"
	"ms-booking/internal/sse"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type stack struct {
	svc     *booking.Service
	store   *db.DB
	clock   *lifecycle.ManualClock
	emitter *sse.NotificationEmitter
	metrics *metrics.Metrics
}

func newStack(t *testing.T, now time.Time) *stack {
	t.Helper()
	log := logger.NewTestLogger()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })
	require.NoError(t, db.CreateSchema(context.Background(), bunDB))
	store := &db.DB{Bun: bunDB}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	clock := lifecycle.NewManualClock(now)
	engine := lifecycle.NewEngine(lifecycle.DefaultPolicy())
	emitter := sse.NewNotificationEmitter()
	m := metrics.New()

	dispatcher := notify.NewDispatcher(emitter, nil, "booking", clock, log)
	dispatcher.OnDispatch(func(typ models.NotificationType, err error) { m.RecordNotification(string(typ), err) })

	svc := booking.NewService(
		store,
		bookingredis.NewRedis(client, 5*time.Second, log),
		engine,
		pricing.NewEstimator(store, engine, decimal.NewFromInt(50), log),
		dispatcher,
		clock,
		log,
	)
	svc.Metrics = m
	svc.Analytics = analytics.NewService(analytics.NewDB(bunDB), clock.Now)

	return &stack{svc: svc, store: store, clock: clock, emitter: emitter, metrics: m}
}

func weddingInput() models.RequestInput {
	return models.RequestInput{
		EventType:          "Wedding",
		EventDate:          "2025-03-10",
		StartTime:          "18:00",
		EndTime:            "20:00",
		Location:           "St. Mark's",
		RequiredInstrument: "Piano",
		ExtraAmount:        decimal.RequireFromString("30.00"),
	}
}

func receive(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
		return models.Notification{}
	}
}

func TestScenarioCancelWithTwoDaysNotice(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, s.store.UpsertRate(ctx, &models.InstrumentRate{Instrument: "piano", HourlyRate: decimal.NewFromInt(60)}))

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)
	assert.Equal(t, "120.00", req.EstimatedBaseAmount.StringFixed(2))

	// 47 hours before the 18:00 start.
	s.clock.Set(time.Date(2025, 3, 8, 19, 0, 0, 0, time.UTC))

	quote, err := s.svc.PenaltyQuote(ctx, leader, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, quote.Percent)

	cancelled, penalty, err := s.svc.CancelRequest(ctx, leader, req.ID, "the couple postponed")
	require.NoError(t, err)
	assert.Equal(t, 25, penalty.Percent)
	assert.Equal(t, lifecycle.PenaltyLabelUnder48h, penalty.Label)
	assert.Equal(t, "37.50", penalty.Amount.StringFixed(2))
	assert.Equal(t, models.EventCancelled, cancelled.EventStatus)
	assert.Equal(t, models.RequestCancelled, cancelled.Status)
	assert.Equal(t, *quote, *penalty)

	stored, err := s.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventCancelled, stored.EventStatus)
	assert.Equal(t, 25, stored.CancellationPenaltyPercent)

	balance, entries, err := s.svc.GetBalance(ctx, leader, leader.ID)
	require.NoError(t, err)
	assert.Equal(t, "-37.50", balance.Balance.StringFixed(2))
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryCancellationPenalty, entries[0].Kind)

	_, _, err = s.svc.CancelRequest(ctx, leader, req.ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestScenarioCancelAtOriginalInstantHasNoPenalty(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)

	// This cancellation instant is usually quoted as "47 hours' notice, 25%",
	// but 2025-03-08T17:00 is 49 hours before the 18:00 start on 2025-03-10.
	// The tiers follow the actual notice, so it is penalty free. The 47h case
	// is TestScenarioCancelWithTwoDaysNotice.
	s.clock.Set(time.Date(2025, 3, 8, 17, 0, 0, 0, time.UTC))
	_, penalty, err := s.svc.CancelRequest(ctx, leader, req.ID, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, 0, penalty.Percent)

	balance, _, err := s.svc.GetBalance(ctx, admin, leader.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Entries)
}

func TestScenarioAcceptThenStartTooEarly(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)
	assert.Equal(t, models.MusicianPending, req.MusicianStatus())

	accepted, err := s.svc.AcceptRequest(ctx, musician, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MusicianAccepted, accepted.MusicianStatus())
	assert.Equal(t, musician.ID, accepted.AcceptedByMusicianID())

	s.clock.Set(time.Date(2025, 3, 10, 17, 59, 0, 0, time.UTC))
	_, err = s.svc.StartEvent(ctx, musician, req.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	stored, err := s.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventScheduled, stored.EventStatus)
	assert.Nil(t, stored.EventStartedAt)

	// Full run once the clock reaches the start time.
	s.clock.Set(time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	_, err = s.svc.StartEvent(ctx, musician, req.ID)
	require.NoError(t, err)

	s.clock.Advance(time.Minute)
	_, err = s.svc.CompleteEvent(ctx, leader, req.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	s.clock.Advance(time.Minute)
	done, err := s.svc.CompleteEvent(ctx, leader, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventCompleted, done.EventStatus)

	balance, _, err := s.svc.GetBalance(ctx, musician, musician.ID)
	require.NoError(t, err)
	// 2h at the default 50/h plus the 30 extra.
	assert.Equal(t, "130.00", balance.Balance.StringFixed(2))

	expected := `
# HELP booking_lifecycle_transitions_total Lifecycle operations by outcome.
# TYPE booking_lifecycle_transitions_total counter
booking_lifecycle_transitions_total{operation="accept request",outcome="ok"} 1
booking_lifecycle_transitions_total{operation="complete event",outcome="invalid_transition"} 1
booking_lifecycle_transitions_total{operation="complete event",outcome="ok"} 1
booking_lifecycle_transitions_total{operation="create request",outcome="ok"} 1
booking_lifecycle_transitions_total{operation="start event",outcome="invalid_transition"} 1
booking_lifecycle_transitions_total{operation="start event",outcome="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(s.metrics.Registry, strings.NewReader(expected), "booking_lifecycle_transitions_total"))
}

func TestRejectOnlyClosesRequestForThatMusician(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	rival := models.Actor{ID: "musician-2", Role: models.RoleMusician}

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)
	offer, err := s.svc.SubmitOffer(ctx, musician, req.ID, models.OfferInput{ProposedPrice: decimal.RequireFromString("150")})
	require.NoError(t, err)

	rejected, err := s.svc.RejectRequest(ctx, rival, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MusicianRejected, rejected.MusicianStatusFor(rival.ID))
	assert.Equal(t, models.MusicianPending, rejected.MusicianStatus())

	stored, err := s.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, stored.Rejections, 1)
	assert.Equal(t, rival.ID, stored.Rejections[0].MusicianID)
	assert.Equal(t, models.EventScheduled, stored.EventStatus)

	_, err = s.svc.RejectRequest(ctx, rival, req.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = s.svc.SubmitOffer(ctx, rival, req.ID, models.OfferInput{ProposedPrice: decimal.RequireFromString("120")})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	selected, err := s.svc.SelectOffer(ctx, leader, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferSelected, selected.Status)

	booked, err := s.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MusicianAccepted, booked.MusicianStatus())
	assert.Equal(t, musician.ID, booked.AcceptedByMusicianID())
	assert.Equal(t, models.MusicianRejected, booked.MusicianStatusFor(rival.ID))
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)

	musicians := []models.Actor{
		{ID: "musician-a", Role: models.RoleMusician},
		{ID: "musician-b", Role: models.RoleMusician},
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, len(musicians))
	for i, m := range musicians {
		wg.Add(1)
		go func(i int, m models.Actor) {
			defer wg.Done()
			<-start
			_, errs[i] = s.svc.AcceptRequest(ctx, m, req.ID)
		}(i, m)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t,
			errorsIsAny(err, models.ErrConcurrentModification, models.ErrInvalidTransition),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, successes)

	stored, err := s.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MusicianAccepted, stored.MusicianStatus())
	assert.Equal(t, 2, stored.Version)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// racingStore lets another writer commit between the service's read and its write.
type racingStore struct {
	*db.DB
	once sync.Once
}

func (r *racingStore) GetRequestByID(ctx context.Context, id string) (*models.Request, error) {
	req, err := r.DB.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() {
		rival := *req
		rival.Description = "edited elsewhere"
		_ = r.DB.SaveRequestTransition(ctx, &rival, rival.Version)
	})
	return req, nil
}

func TestStaleWriteIsConcurrentModification(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)

	s.svc.DB = &racingStore{DB: s.store}
	_, err = s.svc.AcceptRequest(ctx, musician, req.ID)
	require.ErrorIs(t, err, models.ErrConcurrentModification)

	stored, err := s.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited elsewhere", stored.Description)
	assert.Equal(t, models.MusicianPending, stored.MusicianStatus())

	// A retry after re-reading succeeds.
	_, err = s.svc.AcceptRequest(ctx, musician, req.ID)
	require.NoError(t, err)
}

func TestOfferFlowKeepsSiblingsPending(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leaderFeed := s.emitter.Subscribe(ctx, leader)
	musicianFeed := s.emitter.Subscribe(ctx, musician)

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)
	assert.Equal(t, models.NotificationNewRequest, receive(t, musicianFeed).Type)
	assert.Equal(t, models.NotificationNewRequest, receive(t, leaderFeed).Type)

	rival := models.Actor{ID: "musician-2", Role: models.RoleMusician}
	mine, err := s.svc.SubmitOffer(ctx, musician, req.ID, models.OfferInput{ProposedPrice: decimal.RequireFromString("150"), AvailabilityConfirmed: true})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationNewOffer, receive(t, leaderFeed).Type)

	theirs, err := s.svc.SubmitOffer(ctx, rival, req.ID, models.OfferInput{ProposedPrice: decimal.RequireFromString("140")})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationNewOffer, receive(t, leaderFeed).Type)

	_, err = s.svc.SubmitOffer(ctx, musician, req.ID, models.OfferInput{ProposedPrice: decimal.RequireFromString("120")})
	assert.ErrorIs(t, err, models.ErrConcurrentModification)

	visible, err := s.svc.ListOffers(ctx, rival, req.ID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, theirs.ID, visible[0].ID)

	_, err = s.svc.SelectOffer(ctx, rival, mine.ID)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	selected, err := s.svc.SelectOffer(ctx, leader, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferSelected, selected.Status)
	assert.Equal(t, models.NotificationOfferSelected, receive(t, musicianFeed).Type)

	sibling, err := s.svc.GetOffer(ctx, leader, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, sibling.Status)

	_, err = s.svc.SelectOffer(ctx, leader, theirs.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	stored, err := s.svc.GetRequest(ctx, musician, req.ID)
	require.NoError(t, err)
	a := stored.Assignment()
	require.NotNil(t, a)
	assert.Equal(t, models.AssignmentOfferSelected, a.Source)
	assert.Equal(t, mine.ID, a.OfferID)

	rejected, err := s.svc.RejectOffer(ctx, leader, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferRejected, rejected.Status)

	confirmation, err := s.svc.Confirmation(ctx, musician, req.ID)
	require.NoError(t, err)
	assert.Equal(t, musician.ID, confirmation.MusicianID)

	mineList, err := s.svc.ListMyOffers(ctx, musician)
	require.NoError(t, err)
	require.Len(t, mineList, 1)
}

func TestEditAndModeration(t *testing.T) {
	s := newStack(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	req, err := s.svc.CreateRequest(ctx, leader, weddingInput())
	require.NoError(t, err)
	assert.Equal(t, "100.00", req.EstimatedBaseAmount.StringFixed(2))

	location := "Town hall"
	extra := decimal.RequireFromString("45")
	updated, err := s.svc.UpdateRequest(ctx, leader, req.ID, models.RequestPatch{Location: &location, ExtraAmount: &extra})
	require.NoError(t, err)
	assert.Equal(t, "Town hall", updated.Location)
	assert.Equal(t, 2, updated.Version)

	empty := " "
	_, err = s.svc.UpdateRequest(ctx, leader, req.ID, models.RequestPatch{Location: &empty})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.svc.SetRate(ctx, admin, "piano", decimal.NewFromInt(80))
	require.NoError(t, err)
	repriced, err := s.svc.RecalculateAmount(ctx, leader, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "160.00", repriced.EstimatedBaseAmount.StringFixed(2))

	hidden, err := s.svc.SetRequestStatus(ctx, admin, req.ID, models.RequestPending)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, hidden.Status)

	_, err = s.svc.SubmitOffer(ctx, musician, req.ID, models.OfferInput{ProposedPrice: decimal.NewFromInt(100)})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.svc.SetRequestStatus(ctx, admin, req.ID, models.RequestActive)
	require.NoError(t, err)
	_, err = s.svc.AcceptRequest(ctx, musician, req.ID)
	require.NoError(t, err)

	_, err = s.svc.UpdateRequest(ctx, leader, req.ID, models.RequestPatch{Location: &location})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	entry, err := s.svc.AdjustBalance(ctx, admin, musician.ID, models.BalanceAdjustment{Amount: decimal.NewFromInt(15), Note: "travel"})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)

	balances, err := s.svc.ListBalances(ctx, admin)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "15.00", balances[0].Balance.StringFixed(2))

	overview, err := s.svc.Overview(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, overview.TotalRequests)
}
