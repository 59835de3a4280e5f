package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/caches"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
)

type mockOrchestrator struct {
	interfaces.ListenerOrchestrator
	mock.Mock
}

func (m *mockOrchestrator) StartForUser(ctx context.Context, user *dto.User, shouldDelayStart bool) error {
	return m.Called(user.Id, shouldDelayStart).Error(0)
}

func (m *mockOrchestrator) RestartForUser(ctx context.Context, user *dto.User) error {
	return m.Called(user.Id).Error(0)
}

func (m *mockOrchestrator) OnTrialFlagCleared(ctx context.Context, customerId int64) error {
	return m.Called(customerId).Error(0)
}

func newTestNotificationService() (interfaces.NotificationService, *mockOrchestrator, *caches.MessageConfigCache) {
	orchestrator := &mockOrchestrator{}
	cache := caches.NewMessageConfigCache(testLogger(), nil, time.Hour)
	return NewNotificationService(orchestrator, cache, testLogger()), orchestrator, cache
}

func TestOnUserCreated_StartsImmediately(t *testing.T) {
	s, orchestrator, _ := newTestNotificationService()
	orchestrator.On("StartForUser", int64(7), false).Return(nil)

	assert.NoError(t, s.OnUserCreated(context.Background(), validUser(7, 100)))
	orchestrator.AssertExpectations(t)
}

func TestOnUserCreated_NilUser(t *testing.T) {
	s, orchestrator, _ := newTestNotificationService()

	err := s.OnUserCreated(context.Background(), nil)
	assert.True(t, mailflowErrors.IsKind(err, mailflowErrors.KindValidation))
	orchestrator.AssertNotCalled(t, "StartForUser", mock.Anything, mock.Anything)
}

func TestOnUserUpdated_Restarts(t *testing.T) {
	s, orchestrator, _ := newTestNotificationService()
	failure := mailflowErrors.Connection(errors.New("refused"), "dial")
	orchestrator.On("RestartForUser", int64(7)).Return(failure)

	err := s.OnUserUpdated(context.Background(), validUser(7, 100))
	assert.Equal(t, failure, err)
	assert.Error(t, s.OnUserUpdated(context.Background(), nil))
}

func TestOnMessageCategoriesUpdated_ReplacesCache(t *testing.T) {
	s, _, cache := newTestNotificationService()
	ctx := context.Background()
	cache.StoreCategoriesIfAbsent(ctx, 100, []*dto.MessageCategory{{Category: "Old"}})

	updated := []*dto.MessageCategory{{Category: "Support"}, {Category: "Sales"}}
	assert.NoError(t, s.OnMessageCategoriesUpdated(ctx, 100, updated))

	categories, ok := cache.GetCategories(ctx, 100)
	assert.True(t, ok)
	assert.Equal(t, updated, categories)
}

func TestOnBlacklistUpdated_ReplacesCache(t *testing.T) {
	s, _, cache := newTestNotificationService()
	ctx := context.Background()

	entries := []*dto.BlacklistEntry{{EmailAddress: "spam@example.com"}}
	assert.NoError(t, s.OnBlacklistUpdated(ctx, 7, entries))

	stored, ok := cache.GetBlacklist(ctx, 7)
	assert.True(t, ok)
	assert.Equal(t, entries, stored)
}

func TestOnCustomerTrialEnded(t *testing.T) {
	s, orchestrator, _ := newTestNotificationService()
	orchestrator.On("OnTrialFlagCleared", int64(100)).Return(nil)

	assert.NoError(t, s.OnCustomerTrialEnded(context.Background(), 100))
	orchestrator.AssertExpectations(t)
}
