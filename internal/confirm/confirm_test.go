package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-notifier/internal/models"
	"github.com/example/reservation-notifier/internal/storage"
)

type MockStore struct {
	mock.Mock
	log *eventLog
}

func (m *MockStore) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	args := m.Called(id)
	return args.Get(0).(models.Reservation), args.Error(1)
}

func (m *MockStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	args := m.Called(id)
	return args.Get(0).(models.Driver), args.Error(1)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	m.log.add("update:" + string(status))
	// drivers abort on a done context
	if err := ctx.Err(); err != nil {
		return err
	}
	args := m.Called(id, status)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
	log *eventLog
}

func (m *MockNotifier) Send(ctx context.Context, transition models.TransitionType, to models.Recipient, r models.Reservation, drv models.Driver) error {
	m.log.add("send:" + string(to.Role))
	args := m.Called(transition, to, r.ID, drv.ID)
	return args.Error(0)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixtures() (models.Reservation, models.Driver) {
	return models.Reservation{
			ID:       "res-1",
			Status:   models.StatusPending,
			Client:   &models.Client{Name: "Alice", Email: "alice@example.com"},
			DriverID: "drv-1",
		}, models.Driver{
			ID:    "drv-1",
			Name:  "Bob",
			Email: "bob@example.com",
		}
}

func newService(policy FailurePolicy) (*Service, *MockStore, *MockNotifier, *eventLog) {
	log := &eventLog{}
	st := &MockStore{log: log}
	n := &MockNotifier{log: log}
	return NewService(st, n, policy, discardLogger()), st, n, log
}

var (
	clientRecipient = models.Recipient{Email: "alice@example.com", Role: models.RoleClient}
	driverRecipient = models.Recipient{Email: "bob@example.com", Role: models.RoleDriver}
)

func TestConfirmMissingDriverID(t *testing.T) {
	svc, st, n, _ := newService(PolicyReport)

	err := svc.Confirm(context.Background(), "res-1", "")
	assert.ErrorIs(t, err, ErrMissingDriverID)
	st.AssertNotCalled(t, "GetReservation", mock.Anything)
	st.AssertNotCalled(t, "GetDriver", mock.Anything)
	n.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmReservationNotFound(t *testing.T) {
	svc, st, n, _ := newService(PolicyReport)
	_, drv := fixtures()
	st.On("GetReservation", "ghost").Return(models.Reservation{}, fmt.Errorf("reservation ghost: %w", storage.ErrNotFound))
	st.On("GetDriver", "drv-1").Return(drv, nil)

	err := svc.Confirm(context.Background(), "ghost", "drv-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	n.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}

func TestConfirmDriverNotFound(t *testing.T) {
	svc, st, n, _ := newService(PolicyReport)
	r, _ := fixtures()
	st.On("GetReservation", "res-1").Return(r, nil)
	st.On("GetDriver", "nobody").Return(models.Driver{}, fmt.Errorf("driver nobody: %w", storage.ErrNotFound))

	err := svc.Confirm(context.Background(), "res-1", "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	n.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}

func TestConfirmStoreReadError(t *testing.T) {
	svc, st, _, _ := newService(PolicyReport)
	_, drv := fixtures()
	st.On("GetReservation", "res-1").Return(models.Reservation{}, errors.New("connection refused"))
	st.On("GetDriver", "drv-1").Return(drv, nil)

	err := svc.Confirm(context.Background(), "res-1", "drv-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	st.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}

func TestConfirmHappyPath(t *testing.T) {
	svc, st, n, log := newService(PolicyReport)
	r, drv := fixtures()
	st.On("GetReservation", "res-1").Return(r, nil)
	st.On("GetDriver", "drv-1").Return(drv, nil)
	n.On("Send", models.TransitionConfirm, clientRecipient, "res-1", "drv-1").Return(nil).Once()
	n.On("Send", models.TransitionConfirm, driverRecipient, "res-1", "drv-1").Return(nil).Once()
	st.On("UpdateStatus", "res-1", models.StatusConfirmed).Return(nil).Once()

	require.NoError(t, svc.Confirm(context.Background(), "res-1", "drv-1"))

	n.AssertExpectations(t)
	st.AssertExpectations(t)
	require.Len(t, log.events, 3)
	assert.ElementsMatch(t, []string{"send:client", "send:driver"}, log.events[:2])
	assert.Equal(t, "update:confirmed", log.events[2])
}

func TestConfirmNotificationFailureStillPersists(t *testing.T) {
	providerErr := errors.New("provider rejected template")

	for _, policy := range []FailurePolicy{PolicyReport, PolicyIgnore} {
		t.Run(string(policy), func(t *testing.T) {
			svc, st, n, log := newService(policy)
			r, drv := fixtures()
			st.On("GetReservation", "res-1").Return(r, nil)
			st.On("GetDriver", "drv-1").Return(drv, nil)
			n.On("Send", models.TransitionConfirm, clientRecipient, "res-1", "drv-1").Return(providerErr)
			n.On("Send", models.TransitionConfirm, driverRecipient, "res-1", "drv-1").Return(nil)
			st.On("UpdateStatus", "res-1", models.StatusConfirmed).Return(nil).Once()

			err := svc.Confirm(context.Background(), "res-1", "drv-1")

			st.AssertCalled(t, "UpdateStatus", "res-1", models.StatusConfirmed)
			assert.Equal(t, "update:confirmed", log.events[len(log.events)-1])
			if policy == PolicyIgnore {
				assert.NoError(t, err)
				return
			}
			var nerr *NotificationError
			require.ErrorAs(t, err, &nerr)
			assert.Len(t, nerr.Failures, 1)
			assert.ErrorIs(t, err, providerErr)
			assert.Contains(t, err.Error(), "client")
		})
	}
}

func TestConfirmMinimalDataStillSends(t *testing.T) {
	svc, st, n, _ := newService(PolicyReport)
	st.On("GetReservation", "res-1").Return(models.Reservation{ID: "res-1"}, nil)
	st.On("GetDriver", "drv-1").Return(models.Driver{ID: "drv-1"}, nil)
	n.On("Send", models.TransitionConfirm, models.Recipient{Role: models.RoleClient}, "res-1", "drv-1").Return(nil).Once()
	n.On("Send", models.TransitionConfirm, models.Recipient{Role: models.RoleDriver}, "res-1", "drv-1").Return(nil).Once()
	st.On("UpdateStatus", "res-1", models.StatusConfirmed).Return(nil)

	require.NoError(t, svc.Confirm(context.Background(), "res-1", "drv-1"))
	n.AssertExpectations(t)
}

func TestConfirmWritesAfterClientDisconnect(t *testing.T) {
	svc, st, n, _ := newService(PolicyReport)
	r, drv := fixtures()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st.On("GetReservation", "res-1").Return(r, nil)
	st.On("GetDriver", "drv-1").Return(drv, nil)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil)
	st.On("UpdateStatus", "res-1", models.StatusConfirmed).Return(nil).Once()

	require.NoError(t, svc.Confirm(ctx, "res-1", "drv-1"))
	st.AssertCalled(t, "UpdateStatus", "res-1", models.StatusConfirmed)
}

func TestConfirmWriteFailure(t *testing.T) {
	svc, st, n, _ := newService(PolicyReport)
	r, drv := fixtures()
	st.On("GetReservation", "res-1").Return(r, nil)
	st.On("GetDriver", "drv-1").Return(drv, nil)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	st.On("UpdateStatus", "res-1", models.StatusConfirmed).Return(errors.New("read-only replica"))

	err := svc.Confirm(context.Background(), "res-1", "drv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist confirmation")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReport, p)

	p, err = ParsePolicy(" Ignore ")
	require.NoError(t, err)
	assert.Equal(t, PolicyIgnore, p)

	_, err = ParsePolicy("block")
	assert.Error(t, err)
}
