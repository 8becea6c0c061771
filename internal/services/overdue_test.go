package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
	"sicet-backend-go/internal/services/mocks"
)

type fakeOverdueStore struct {
	mu          sync.Mutex
	candidates  []services.OverdueCandidate
	recipients  map[string][]string
	claims      map[string]string
	messages    map[string]string
	hideClaimed bool
}

func newFakeOverdueStore(candidates ...services.OverdueCandidate) *fakeOverdueStore {
	return &fakeOverdueStore{
		candidates:  candidates,
		recipients:  map[string][]string{},
		claims:      map[string]string{},
		messages:    map[string]string{},
		hideClaimed: true,
	}
}

func (s *fakeOverdueStore) OpenTodolists(_ context.Context, before time.Time) ([]services.OverdueCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []services.OverdueCandidate{}
	for _, candidate := range s.candidates {
		if _, claimed := s.claims[candidate.ID]; claimed && s.hideClaimed {
			continue
		}
		if candidate.ScheduledExecution.Before(before) {
			out = append(out, candidate)
		}
	}
	return out, nil
}

func (s *fakeOverdueStore) Recipients(_ context.Context, _, targetID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipients[targetID], nil
}

func (s *fakeOverdueStore) ClaimTodolistAlert(_ context.Context, todolistID, _ string, _ []string, _ time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.claims[todolistID]; exists {
		return "", false, nil
	}
	s.claims[todolistID] = models.AlertPending
	return todolistID, true, nil
}

func (s *fakeOverdueStore) MarkTodolistAlertSent(_ context.Context, claimID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimID] = models.AlertSent
	return nil
}

func (s *fakeOverdueStore) MarkTodolistAlertFailed(_ context.Context, claimID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimID] = models.AlertFailed
	s.messages[claimID] = message
	return nil
}

func (s *fakeOverdueStore) status(todolistID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[todolistID]
}

func candidate(id, deviceID, deviceName string, scheduled time.Time) services.OverdueCandidate {
	return services.OverdueCandidate{
		Todolist: models.Todolist{
			ID:                 id,
			DeviceID:           deviceID,
			ScheduledExecution: scheduled,
			Status:             models.TodolistPending,
			TimeSlotType:       models.SlotStandard,
		},
		DeviceName: deviceName,
	}
}

func newProcessor(store services.OverdueStore, mailer services.Mailer, now time.Time) *services.OverdueProcessor {
	return &services.OverdueProcessor{
		Store:       store,
		Mailer:      mailer,
		Locker:      services.NewLocalLocker(),
		Clock:       services.Clock{Location: time.UTC, Now: func() time.Time { return now }},
		Logger:      zap.NewNop(),
		Fallback:    []string{"qualita@example.com"},
		Workers:     3,
		ItemTimeout: time.Second,
		BaseURL:     "https://sicet.example.com",
	}
}

func TestOverdueProcessorSendsOncePerTodolist(t *testing.T) {
	now := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	store := newFakeOverdueStore(
		candidate("tl-a", "DAAAAAA1", "Cella 1", time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)),
		candidate("tl-b", "DAAAAAA1", "Cella 1", time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)),
		candidate("tl-c", "DBBBBBB2", "Forno", time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)),
	)

	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, email services.Email) error {
			assert.Equal(t, []string{"qualita@example.com"}, email.To)
			if strings.Contains(email.Subject, "Forno") {
				return errors.New("provider unavailable")
			}
			return nil
		}).
		Times(2)

	processor := newProcessor(store, mailer, now)
	result, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Expired)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, result.Details, 2)
	assert.Equal(t, "tl-a", result.Details[0].TodolistID)
	assert.Equal(t, services.OutcomeSent, result.Details[0].Outcome)
	assert.Equal(t, services.OutcomeFailed, result.Details[1].Outcome)
	assert.Equal(t, "provider unavailable", result.Details[1].Error)
	assert.Equal(t, models.AlertSent, store.status("tl-a"))
	assert.Equal(t, models.AlertFailed, store.status("tl-c"))
	assert.Equal(t, "", store.status("tl-b"))

	// A second run with no task changes sends nothing new.
	second, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 0, second.Expired)
	assert.Equal(t, 0, second.Sent)
}

func TestOverdueProcessorStoresValidUTF8FailureMessage(t *testing.T) {
	now := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	store := newFakeOverdueStore(candidate("tl-x", "DAAAAAA1", "Cella 1", time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)))

	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(errors.New("x" + strings.Repeat("è", 300)))

	result, err := newProcessor(store, mailer, now).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)

	store.mu.Lock()
	message := store.messages["tl-x"]
	store.mu.Unlock()
	assert.True(t, utf8.ValidString(message))
	assert.LessOrEqual(t, len(message), 500)
	assert.Equal(t, 499, len(message))
}

func TestOverdueProcessorSkipsAlreadyClaimed(t *testing.T) {
	now := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	store := newFakeOverdueStore(candidate("tl-a", "DAAAAAA1", "Cella 1", time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)))
	store.hideClaimed = false
	store.claims["tl-a"] = models.AlertPending

	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

	result, err := newProcessor(store, mailer, now).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Sent)
}

func TestOverdueProcessorUsesSubscriptionsBeforeFallback(t *testing.T) {
	now := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	store := newFakeOverdueStore(candidate("tl-a", "DAAAAAA1", "Cella 1", time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)))
	store.recipients["DAAAAAA1"] = []string{"capo.turno@example.com"}

	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, email services.Email) error {
			assert.Equal(t, []string{"capo.turno@example.com"}, email.To)
			assert.Contains(t, email.Text, "https://sicet.example.com/todolist/tl-a")
			return nil
		})

	result, err := newProcessor(store, mailer, now).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestOverdueProcessorTimesOutStuckSend(t *testing.T) {
	now := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	store := newFakeOverdueStore(
		candidate("tl-a", "DAAAAAA1", "Cella 1", time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)),
		candidate("tl-b", "DBBBBBB2", "Forno", time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)),
	)

	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, email services.Email) error {
			if strings.Contains(email.Subject, "Cella") {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}).
		Times(2)

	processor := newProcessor(store, mailer, now)
	processor.ItemTimeout = 50 * time.Millisecond
	result, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, models.AlertFailed, store.status("tl-a"))
}

func TestOverdueProcessorRejectsConcurrentRun(t *testing.T) {
	locker := services.NewLocalLocker()
	release, ok, err := locker.Acquire(context.Background(), "overdue-alerts", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	processor := newProcessor(newFakeOverdueStore(), nil, time.Now())
	processor.Locker = locker
	_, err = processor.Run(context.Background())
	serr, isService := services.AsServiceError(err)
	require.True(t, isService)
	assert.Equal(t, 409, serr.Status)
}
