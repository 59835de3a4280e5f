package directory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/dto"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *directoryService {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewDirectoryService(&config.DirectoryConfig{Url: server.URL, ApiKey: "dir-key", Timeout: time.Second}).(*directoryService)
}

func TestListEnabledUsers(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/customers/users", r.URL.Path)
		assert.Equal(t, "dir-key", r.Header.Get("X-API-KEY"))
		_, _ = w.Write([]byte(`[{"id":1,"customerId":100,"settings":{"imapHost":"imap.company.com","imapPort":993}}]`))
	})

	users, err := s.ListEnabledUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(100), users[0].CustomerId)
	assert.Equal(t, 993, users[0].Settings.ImapPort)
}

func TestGetCustomer_NotFound(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers/42", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := s.GetCustomer(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBlacklist_ServerError(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers/100/users/7/blacklist", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := s.ListBlacklist(context.Background(), 100, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestCreateMessageLog(t *testing.T) {
	var received dto.MessageLogEntry
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/customers/100/message-log", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusCreated)
	})

	err := s.CreateMessageLog(context.Background(), &dto.MessageLogEntry{UserId: 7, CustomerId: 100, Category: "Support", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "Support", received.Category)
	assert.Equal(t, "tok", received.Token)
}
