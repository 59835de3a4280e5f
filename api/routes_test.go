package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailflow/api/middleware"
	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/enum"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/models"
	"github.com/customeros/mailflow/internal/repository"
)

const testApiKey = "test-key"

type mockNotifications struct {
	mock.Mock
}

func (m *mockNotifications) OnUserCreated(ctx context.Context, user *dto.User) error {
	return m.Called(user.Id).Error(0)
}

func (m *mockNotifications) OnUserUpdated(ctx context.Context, user *dto.User) error {
	return m.Called(user.Id).Error(0)
}

func (m *mockNotifications) OnMessageCategoriesUpdated(ctx context.Context, customerId int64, categories []*dto.MessageCategory) error {
	return m.Called(customerId, len(categories)).Error(0)
}

func (m *mockNotifications) OnBlacklistUpdated(ctx context.Context, userId int64, entries []*dto.BlacklistEntry) error {
	return m.Called(userId, len(entries)).Error(0)
}

func (m *mockNotifications) OnCustomerTrialEnded(ctx context.Context, customerId int64) error {
	return m.Called(customerId).Error(0)
}

type stubOrchestrator struct {
	interfaces.ListenerOrchestrator
	status dto.OrchestratorStatus
}

func (s *stubOrchestrator) Status() dto.OrchestratorStatus {
	return s.status
}

type stubStates struct {
	interfaces.ListenerStateRepository
	states   map[int64]*models.ListenerState
	statuses []enum.ConnectionStatus
}

func (s *stubStates) GetByUser(ctx context.Context, userId int64) (*models.ListenerState, error) {
	return s.states[userId], nil
}

func (s *stubStates) ListByStatus(ctx context.Context, statuses ...enum.ConnectionStatus) ([]*models.ListenerState, error) {
	s.statuses = statuses
	var result []*models.ListenerState
	for _, state := range s.states {
		result = append(result, state)
	}
	return result, nil
}

type stubMessageLogs struct {
	interfaces.MessageLogRepository
	entries []*models.MessageLog
	limit   int
}

func (s *stubMessageLogs) GetByToken(ctx context.Context, token string) (*models.MessageLog, error) {
	for _, entry := range s.entries {
		if entry.Token == token {
			return entry, nil
		}
	}
	return nil, repository.ErrMessageLogNotFound
}

func (s *stubMessageLogs) ListByUser(ctx context.Context, userId int64, limit int) ([]*models.MessageLog, error) {
	s.limit = limit
	return s.entries, nil
}

func newTestRouter(notifications interfaces.NotificationService) *gin.Engine {
	return newOpsTestRouter(notifications, &stubStates{}, &stubMessageLogs{})
}

func newOpsTestRouter(notifications interfaces.NotificationService, states *stubStates, messageLogs *stubMessageLogs) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	orchestrator := &stubOrchestrator{status: dto.OrchestratorStatus{
		Listeners:      []dto.ListenerStatus{{Key: "user:1", OwnerUserId: 1, CustomerId: 100, Ready: true}},
		PendingRetries: []int64{2},
	}}
	RegisterRoutes(r, orchestrator, notifications, states, messageLogs, testApiKey)
	return r
}

func do(r *gin.Engine, method, path, body, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(middleware.ApiKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_PanicsOnNilServices(t *testing.T) {
	assert.Panics(t, func() {
		RegisterRoutes(gin.New(), nil, &mockNotifications{}, &stubStates{}, &stubMessageLogs{}, testApiKey)
	})
}

func TestHealthIsPublic(t *testing.T) {
	w := do(newTestRouter(&mockNotifications{}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestApiKeyRequired(t *testing.T) {
	r := newTestRouter(&mockNotifications{})

	w := do(r, http.MethodGet, "/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Missing API key")

	w = do(r, http.MethodPost, "/notifications/users", `{"id":1}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API key")
}

func TestStatus(t *testing.T) {
	w := do(newTestRouter(&mockNotifications{}), http.MethodGet, "/status", "", testApiKey)
	require.Equal(t, http.StatusOK, w.Code)

	var status dto.OrchestratorStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Len(t, status.Listeners, 1)
	assert.Equal(t, "user:1", status.Listeners[0].Key)
	assert.Equal(t, []int64{2}, status.PendingRetries)
}

func TestUserCreated(t *testing.T) {
	notifications := &mockNotifications{}
	notifications.On("OnUserCreated", int64(5)).Return(nil)

	w := do(newTestRouter(notifications), http.MethodPost, "/notifications/users", `{"id":5,"customerId":100}`, testApiKey)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"listener started","userId":5}`, w.Body.String())
	notifications.AssertExpectations(t)
}

func TestUserCreated_BadJson(t *testing.T) {
	notifications := &mockNotifications{}
	w := do(newTestRouter(notifications), http.MethodPost, "/notifications/users", `{"id":`, testApiKey)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	notifications.AssertNotCalled(t, "OnUserCreated", mock.Anything)
}

func TestUserUpdated_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "validation", err: mailflowErrors.Validation(mailflowErrors.ErrInvalidPorts, "bad ports"), code: http.StatusBadRequest},
		{name: "connection", err: mailflowErrors.Connection(errors.New("refused"), "dial"), code: http.StatusBadGateway},
		{name: "protocol", err: mailflowErrors.Protocol(errors.New("BAD"), "select"), code: http.StatusBadGateway},
		{name: "termination", err: mailflowErrors.Termination(errors.New("timeout"), "logout"), code: http.StatusGatewayTimeout},
		{name: "unclassified", err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifications := &mockNotifications{}
			notifications.On("OnUserUpdated", int64(5)).Return(tt.err)

			w := do(newTestRouter(notifications), http.MethodPut, "/notifications/users", `{"id":5}`, testApiKey)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestMessageCategoriesUpdated(t *testing.T) {
	notifications := &mockNotifications{}
	notifications.On("OnMessageCategoriesUpdated", int64(100), 2).Return(nil)
	r := newTestRouter(notifications)

	body := `[{"category":"Support","isReply":true},{"category":"Sales"}]`
	w := do(r, http.MethodPut, "/notifications/customers/100/message-categories", body, testApiKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"categories replaced","count":2}`, w.Body.String())

	w = do(r, http.MethodPut, "/notifications/customers/abc/message-categories", body, testApiKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	notifications.AssertNumberOfCalls(t, "OnMessageCategoriesUpdated", 1)
}

func TestBlacklistUpdated(t *testing.T) {
	notifications := &mockNotifications{}
	notifications.On("OnBlacklistUpdated", int64(7), 1).Return(nil)

	w := do(newTestRouter(notifications), http.MethodPut, "/notifications/users/7/blacklist", `[{"blacklistedEmailAddress":"spam@example.com"}]`, testApiKey)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"blacklist replaced","count":1}`, w.Body.String())
	notifications.AssertExpectations(t)
}

func TestCustomerTrialEnded(t *testing.T) {
	notifications := &mockNotifications{}
	notifications.On("OnCustomerTrialEnded", int64(100)).Return(nil)
	r := newTestRouter(notifications)

	w := do(r, http.MethodDelete, "/notifications/customers/100/trial", "", testApiKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"trial ended","customerId":100}`, w.Body.String())

	w = do(r, http.MethodDelete, "/notifications/customers/x/trial", "", testApiKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	notifications.AssertNumberOfCalls(t, "OnCustomerTrialEnded", 1)
}

func TestListenerState(t *testing.T) {
	states := &stubStates{states: map[int64]*models.ListenerState{
		7: {UserId: 7, CustomerId: 100, ListenerKey: "user:7", Status: enum.ConnectionRetrying, RetryCount: 2},
	}}
	r := newOpsTestRouter(&mockNotifications{}, states, &stubMessageLogs{})

	w := do(r, http.MethodGet, "/status/users/7", "", testApiKey)
	require.Equal(t, http.StatusOK, w.Code)
	var state models.ListenerState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, enum.ConnectionRetrying, state.Status)
	assert.Equal(t, 2, state.RetryCount)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/status/users/8", "", testApiKey).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/status/users/x", "", testApiKey).Code)
}

func TestListenerStates_StatusFilter(t *testing.T) {
	states := &stubStates{states: map[int64]*models.ListenerState{
		7: {UserId: 7, Status: enum.ConnectionFailed},
	}}
	r := newOpsTestRouter(&mockNotifications{}, states, &stubMessageLogs{})

	w := do(r, http.MethodGet, "/status/listeners?status=FAILED&status=RETRYING", "", testApiKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []enum.ConnectionStatus{enum.ConnectionFailed, enum.ConnectionRetrying}, states.statuses)

	w = do(r, http.MethodGet, "/status/listeners?status=SLEEPING", "", testApiKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageLogs(t *testing.T) {
	messageLogs := &stubMessageLogs{entries: []*models.MessageLog{
		{ID: "log-1", UserId: 7, CustomerId: 100, Category: "Sales", Token: "tok-1"},
	}}
	r := newOpsTestRouter(&mockNotifications{}, &stubStates{}, messageLogs)

	w := do(r, http.MethodGet, "/message-logs/tok-1", "", testApiKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"Sales"`)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/message-logs/missing", "", testApiKey).Code)

	w = do(r, http.MethodGet, "/users/7/message-logs", "", testApiKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, messageLogs.limit)

	w = do(r, http.MethodGet, "/users/7/message-logs?limit=5", "", testApiKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, messageLogs.limit)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/users/7/message-logs?limit=-1", "", testApiKey).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/users/7/message-logs", "", "").Code)
}
