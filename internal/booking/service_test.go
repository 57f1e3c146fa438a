package booking_test

import (
	"context"
	"errors"
	"ms-booking/internal/booking"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/pricing"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateRequest(ctx context.Context, req *models.Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockDBLayer) GetRequestByID(ctx context.Context, id string) (*models.Request, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// Hand out a copy so the service cannot mutate the fixture between calls.
	req := *args.Get(0).(*models.Request)
	return &req, args.Error(1)
}

func (m *MockDBLayer) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Request), args.Error(1)
}

func (m *MockDBLayer) SaveRequestTransition(ctx context.Context, req *models.Request, expectedVersion int, entries ...models.BalanceEntry) error {
	args := m.Called(ctx, req, expectedVersion, entries)
	return args.Error(0)
}

func (m *MockDBLayer) CreateOffer(ctx context.Context, offer *models.Offer) error {
	args := m.Called(ctx, offer)
	return args.Error(0)
}

func (m *MockDBLayer) GetOfferByID(ctx context.Context, id string) (*models.Offer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	offer := *args.Get(0).(*models.Offer)
	return &offer, args.Error(1)
}

func (m *MockDBLayer) ListOffersByRequest(ctx context.Context, requestID string) ([]models.Offer, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Offer), args.Error(1)
}

func (m *MockDBLayer) ListOffersByMusician(ctx context.Context, musicianID string) ([]models.Offer, error) {
	args := m.Called(ctx, musicianID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Offer), args.Error(1)
}

func (m *MockDBLayer) SaveOfferTransition(ctx context.Context, offer *models.Offer, expectedOfferVersion int, req *models.Request, expectedRequestVersion int) error {
	args := m.Called(ctx, offer, expectedOfferVersion, req, expectedRequestVersion)
	return args.Error(0)
}

func (m *MockDBLayer) ListRates(ctx context.Context) ([]models.InstrumentRate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.InstrumentRate), args.Error(1)
}

func (m *MockDBLayer) UpsertRate(ctx context.Context, rate *models.InstrumentRate) error {
	args := m.Called(ctx, rate)
	return args.Error(0)
}

func (m *MockDBLayer) InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDBLayer) ListBalances(ctx context.Context) ([]models.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Balance), args.Error(1)
}

func (m *MockDBLayer) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Balance), args.Error(1)
}

func (m *MockDBLayer) ListBalanceEntries(ctx context.Context, userID string) ([]models.BalanceEntry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BalanceEntry), args.Error(1)
}

type MockRequestLock struct {
	mock.Mock
}

func (m *MockRequestLock) LockRequest(ctx context.Context, requestID string) (string, bool, error) {
	args := m.Called(ctx, requestID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockRequestLock) UnlockRequest(ctx context.Context, requestID, token string) error {
	args := m.Called(ctx, requestID, token)
	return args.Error(0)
}

func (m *MockRequestLock) IsRequestLocked(ctx context.Context, requestID string) (bool, error) {
	args := m.Called(ctx, requestID)
	return args.Bool(0), args.Error(1)
}

type MockEstimator struct {
	mock.Mock
}

func (m *MockEstimator) Estimate(ctx context.Context, r *models.Request) (*pricing.Estimate, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricing.Estimate), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, n models.Notification) {
	m.Called(ctx, n)
}

type MockCharger struct {
	mock.Mock
}

func (m *MockCharger) ChargePenalty(ctx context.Context, r *models.Request) (string, error) {
	args := m.Called(ctx, r)
	return args.String(0), args.Error(1)
}

var (
	leader   = models.Actor{ID: "leader-1", Role: models.RoleLeader}
	musician = models.Actor{ID: "musician-1", Role: models.RoleMusician}
	admin    = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

type fixture struct {
	db         *MockDBLayer
	lock       *MockRequestLock
	estimator  *MockEstimator
	dispatcher *MockDispatcher
	clock      *lifecycle.ManualClock
	svc        *booking.Service
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		db:         new(MockDBLayer),
		lock:       new(MockRequestLock),
		estimator:  new(MockEstimator),
		dispatcher: new(MockDispatcher),
		clock:      lifecycle.NewManualClock(now),
	}
	f.svc = booking.NewService(f.db, f.lock, lifecycle.NewEngine(lifecycle.DefaultPolicy()), f.estimator, f.dispatcher, f.clock, logger.NewTestLogger())
	return f
}

func (f *fixture) expectLock(requestID string) {
	f.lock.On("LockRequest", mock.Anything, requestID).Return("token-1", true, nil).Once()
	f.lock.On("UnlockRequest", mock.Anything, requestID, "token-1").Return(nil).Once()
}

func scheduledRequest() *models.Request {
	return &models.Request{
		ID:                  "req-1",
		LeaderID:            leader.ID,
		EventType:           "Wedding",
		EventDate:           "2025-03-10",
		StartTime:           "18:00",
		EndTime:             "20:00",
		Location:            "Chapel",
		RequiredInstrument:  "piano",
		EstimatedBaseAmount: decimal.NewFromInt(100),
		ExtraAmount:         decimal.NewFromInt(50),
		Status:              models.RequestActive,
		EventStatus:         models.EventScheduled,
		Version:             3,
	}
}

func notificationOf(typ models.NotificationType) interface{} {
	return mock.MatchedBy(func(n models.Notification) bool { return n.Type == typ })
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	in := models.RequestInput{
		EventType:          " Wedding ",
		EventDate:          "2025-03-10",
		StartTime:          "18:00",
		EndTime:            "20:00",
		Location:           "Chapel",
		RequiredInstrument: "Piano",
		ExtraAmount:        decimal.RequireFromString("25.5"),
	}

	f.estimator.On("Estimate", mock.Anything, mock.AnythingOfType("*models.Request")).
		Return(&pricing.Estimate{BaseAmount: decimal.RequireFromString("120.00")}, nil).Once()
	f.db.On("CreateRequest", mock.Anything, mock.MatchedBy(func(r *models.Request) bool {
		return r.LeaderID == leader.ID && r.EventType == "Wedding" &&
			r.Status == models.RequestActive && r.EventStatus == models.EventScheduled &&
			r.EstimatedBaseAmount.Equal(decimal.RequireFromString("120"))
	})).Return(nil).Once()
	f.dispatcher.On("Dispatch", mock.Anything, notificationOf(models.NotificationNewRequest)).Once()

	req, err := f.svc.CreateRequest(context.Background(), leader, in)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "145.50", req.TotalAmount().StringFixed(2))

	f.db.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	valid := models.RequestInput{
		EventType: "Service", EventDate: "2025-03-10", StartTime: "18:00", EndTime: "20:00",
		Location: "Chapel", RequiredInstrument: "piano",
	}

	_, err := f.svc.CreateRequest(context.Background(), musician, valid)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	missing := valid
	missing.Location = "  "
	_, err = f.svc.CreateRequest(context.Background(), leader, missing)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, "location is required", models.ReasonOf(err))

	badDate := valid
	badDate.EventDate = "10/03/2025"
	_, err = f.svc.CreateRequest(context.Background(), leader, badDate)
	assert.ErrorIs(t, err, models.ErrValidation)

	past := valid
	past.EventDate = "2025-02-01"
	_, err = f.svc.CreateRequest(context.Background(), leader, past)
	assert.ErrorIs(t, err, models.ErrValidation)

	f.db.AssertNotCalled(t, "CreateRequest", mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestLockContentionIsConflict(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 10, 18, 5, 0, 0, time.UTC))
	f.lock.On("LockRequest", mock.Anything, "req-1").Return("", false, nil).Once()

	_, err := f.svc.AcceptRequest(context.Background(), musician, "req-1")
	require.ErrorIs(t, err, models.ErrConcurrentModification)
	assert.True(t, models.IsRetryable(err))

	f.db.AssertNotCalled(t, "GetRequestByID", mock.Anything, mock.Anything)
	f.lock.AssertNotCalled(t, "UnlockRequest", mock.Anything, mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestLockErrorIsNotRetryable(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 10, 18, 5, 0, 0, time.UTC))
	f.lock.On("LockRequest", mock.Anything, "req-1").Return("", false, errors.New("redis down")).Once()

	_, err := f.svc.AcceptRequest(context.Background(), musician, "req-1")
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err))
}

func TestStartEventSavesAgainstReadVersion(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 10, 18, 5, 0, 0, time.UTC))
	req := scheduledRequest()
	req.Assign(models.AcceptedAssignment{MusicianID: musician.ID, Source: models.AssignmentMusicianAccept, AssignedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)})

	f.expectLock("req-1")
	f.db.On("GetRequestByID", mock.Anything, "req-1").Return(req, nil).Once()
	f.db.On("SaveRequestTransition", mock.Anything, mock.MatchedBy(func(r *models.Request) bool {
		return r.EventStatus == models.EventStarted && r.StartedByMusicianID == musician.ID
	}), 3, mock.Anything).Return(nil).Once()
	f.dispatcher.On("Dispatch", mock.Anything, notificationOf(models.NotificationRequestUpdated)).Once()

	started, err := f.svc.StartEvent(context.Background(), musician, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStarted, started.EventStatus)

	f.db.AssertExpectations(t)
	f.lock.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
}

func TestRejectedTransitionDoesNotSaveOrNotify(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC))
	req := scheduledRequest()
	req.Assign(models.AcceptedAssignment{MusicianID: musician.ID, Source: models.AssignmentMusicianAccept, AssignedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)})

	f.expectLock("req-1")
	f.db.On("GetRequestByID", mock.Anything, "req-1").Return(req, nil).Once()

	_, err := f.svc.StartEvent(context.Background(), musician, "req-1")
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	f.db.AssertNotCalled(t, "SaveRequestTransition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	f.lock.AssertExpectations(t)
}

func TestCancelRecordsPenaltyAndCharges(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC))
	charger := new(MockCharger)
	f.svc.Charger = charger

	f.expectLock("req-1")
	f.db.On("GetRequestByID", mock.Anything, "req-1").Return(scheduledRequest(), nil).Once()
	f.db.On("SaveRequestTransition", mock.Anything, mock.Anything, 3, mock.MatchedBy(func(entries []models.BalanceEntry) bool {
		return len(entries) == 1 &&
			entries[0].UserID == leader.ID &&
			entries[0].Kind == models.EntryCancellationPenalty &&
			entries[0].Amount.Equal(decimal.RequireFromString("-75"))
	})).Return(nil).Once()
	charger.On("ChargePenalty", mock.Anything, mock.AnythingOfType("*models.Request")).Return("", errors.New("card declined")).Once()
	f.dispatcher.On("Dispatch", mock.Anything, notificationOf(models.NotificationRequestUpdated)).Once()

	req, penalty, err := f.svc.CancelRequest(context.Background(), leader, "req-1", "venue flooded")
	require.NoError(t, err)
	assert.Equal(t, 50, penalty.Percent)
	assert.Equal(t, "75.00", penalty.Amount.StringFixed(2))
	assert.Equal(t, models.EventCancelled, req.EventStatus)
	assert.Equal(t, "venue flooded", req.CancellationReason)

	f.db.AssertExpectations(t)
	charger.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
}

func TestCancelWithoutPenaltySkipsLedger(t *testing.T) {
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	f.expectLock("req-1")
	f.db.On("GetRequestByID", mock.Anything, "req-1").Return(scheduledRequest(), nil).Once()
	f.db.On("SaveRequestTransition", mock.Anything, mock.Anything, 3, []models.BalanceEntry(nil)).Return(nil).Once()
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Once()

	_, penalty, err := f.svc.CancelRequest(context.Background(), leader, "req-1", "plans changed")
	require.NoError(t, err)
	assert.Equal(t, 0, penalty.Percent)
	f.db.AssertExpectations(t)
}

func TestCompleteEventPaysSelectedOfferPrice(t *testing.T) {
	startedAt := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, startedAt.Add(90*time.Minute))

	req := scheduledRequest()
	req.Assign(models.AcceptedAssignment{MusicianID: musician.ID, OfferID: "offer-1", Source: models.AssignmentOfferSelected, AssignedAt: startedAt.Add(-72 * time.Hour)})
	req.EventStatus = models.EventStarted
	req.EventStartedAt = &startedAt
	req.StartedByMusicianID = musician.ID

	f.expectLock("req-1")
	f.db.On("GetRequestByID", mock.Anything, "req-1").Return(req, nil).Once()
	f.db.On("GetOfferByID", mock.Anything, "offer-1").Return(&models.Offer{
		ID: "offer-1", RequestID: "req-1", MusicianID: musician.ID,
		ProposedPrice: decimal.RequireFromString("180.00"), Status: models.OfferSelected,
	}, nil).Once()
	f.db.On("SaveRequestTransition", mock.Anything, mock.Anything, 3, mock.MatchedBy(func(entries []models.BalanceEntry) bool {
		return len(entries) == 1 && entries[0].UserID == musician.ID &&
			entries[0].Kind == models.EntryEventPayout &&
			entries[0].Amount.Equal(decimal.RequireFromString("180"))
	})).Return(nil).Once()
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Once()

	done, err := f.svc.CompleteEvent(context.Background(), leader, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, done.Status)
	f.db.AssertExpectations(t)
}

func TestListRequestsScopesByRole(t *testing.T) {
	f := newFixture(t, time.Now())
	ctx := context.Background()

	f.db.On("ListRequests", mock.Anything, models.RequestFilter{LeaderID: leader.ID}).Return([]models.Request{}, nil).Once()
	f.db.On("ListRequests", mock.Anything, models.RequestFilter{MusicianID: musician.ID, OpenOnly: true, Instrument: "piano"}).Return([]models.Request{}, nil).Once()
	f.db.On("ListRequests", mock.Anything, models.RequestFilter{Status: models.RequestPending}).Return([]models.Request{}, nil).Once()

	_, err := f.svc.ListRequests(ctx, leader, models.RequestFilter{LeaderID: "someone-else", MusicianID: "x"})
	require.NoError(t, err)
	_, err = f.svc.ListRequests(ctx, musician, models.RequestFilter{LeaderID: "leader-9", Instrument: "piano"})
	require.NoError(t, err)
	_, err = f.svc.ListRequests(ctx, admin, models.RequestFilter{Status: models.RequestPending})
	require.NoError(t, err)

	_, err = f.svc.ListRequests(ctx, models.Actor{ID: "x", Role: "guest"}, models.RequestFilter{})
	assert.ErrorIs(t, err, models.ErrValidation)

	f.db.AssertExpectations(t)
}

func TestAdminOnlyOperations(t *testing.T) {
	f := newFixture(t, time.Now())
	ctx := context.Background()

	_, err := f.svc.SetRate(ctx, leader, "piano", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.ListBalances(ctx, musician)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.AdjustBalance(ctx, leader, "musician-1", models.BalanceAdjustment{Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.SetRequestStatus(ctx, leader, "req-1", models.RequestPending)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.Overview(ctx, musician)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, _, err = f.svc.GetBalance(ctx, musician, "musician-2")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.RequestLockHeld(ctx, leader, "req-1")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	f.db.On("UpsertRate", mock.Anything, mock.MatchedBy(func(r *models.InstrumentRate) bool {
		return r.Instrument == "cello" && r.HourlyRate.Equal(decimal.RequireFromString("62.5"))
	})).Return(nil).Once()
	rate, err := f.svc.SetRate(ctx, admin, "  Cello ", decimal.RequireFromString("62.499"))
	require.NoError(t, err)
	assert.Equal(t, "cello", rate.Instrument)

	_, err = f.svc.SetRate(ctx, admin, "cello", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, models.ErrValidation)

	f.db.AssertExpectations(t)
}
