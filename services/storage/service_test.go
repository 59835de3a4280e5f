package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/services/storage/aws_client"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

type mockObjectClient struct {
	mock.Mock
}

func (m *mockObjectClient) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return m.Called(bucket, key, data, contentType).Error(0)
}

func (m *mockObjectClient) List(ctx context.Context, bucket, prefix string) ([]aws_client.Object, error) {
	args := m.Called(bucket, prefix)
	objects, _ := args.Get(0).([]aws_client.Object)
	return objects, args.Error(1)
}

func (m *mockObjectClient) Delete(ctx context.Context, bucket, key string) error {
	return m.Called(bucket, key).Error(0)
}

func TestArchiveKey(t *testing.T) {
	user := &dto.User{Id: 7, CustomerId: 100}
	now := time.Date(2026, 4, 2, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	key := ArchiveKey(user, &dto.MailMessage{MessageId: "<abc/def@acme.io>"}, now)
	assert.Equal(t, "manual-review/100/7/2026-04-02/abc_def_at_acme.io.eml", key)

	generated := ArchiveKey(user, &dto.MailMessage{}, now)
	assert.True(t, strings.HasPrefix(generated, "manual-review/100/7/2026-04-02/msg_"))
	assert.True(t, strings.HasSuffix(generated, ".eml"))
}

func TestArchive(t *testing.T) {
	client := &mockObjectClient{}
	raw := []byte("Subject: hi\r\n\r\nbody")
	client.On("Put", "manual-review", mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "manual-review/100/7/") && strings.HasSuffix(key, "/m1_at_acme.io.eml")
	}), raw, emlContentType).Return(nil)

	s := NewArchiveService(client, "manual-review", getLogger())
	key, err := s.Archive(context.Background(), &dto.User{Id: 7, CustomerId: 100}, &dto.MailMessage{MessageId: "m1@acme.io", Raw: raw})

	require.NoError(t, err)
	assert.Contains(t, key, "m1_at_acme.io.eml")
	client.AssertExpectations(t)
}

func TestArchive_Failures(t *testing.T) {
	client := &mockObjectClient{}
	client.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("access denied"))
	s := NewArchiveService(client, "manual-review", getLogger())
	user := &dto.User{Id: 7, CustomerId: 100}

	_, err := s.Archive(context.Background(), user, &dto.MailMessage{MessageId: "m1@acme.io"})
	assert.Error(t, err, "nothing to store without raw content")
	client.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = s.Archive(context.Background(), user, &dto.MailMessage{MessageId: "m1@acme.io", Raw: []byte("x")})
	assert.Error(t, err)
}

func TestPurgeOlderThan(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	client := &mockObjectClient{}
	client.On("List", "manual-review", archivePrefix).Return([]aws_client.Object{
		{Key: "manual-review/old-1.eml", LastModified: cutoff.Add(-48 * time.Hour)},
		{Key: "manual-review/old-2.eml", LastModified: cutoff.Add(-time.Minute)},
		{Key: "manual-review/new.eml", LastModified: cutoff.Add(time.Hour)},
	}, nil)
	client.On("Delete", "manual-review", "manual-review/old-1.eml").Return(nil)
	client.On("Delete", "manual-review", "manual-review/old-2.eml").Return(errors.New("throttled"))

	s := NewArchiveService(client, "manual-review", getLogger())
	deleted, err := s.PurgeOlderThan(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	client.AssertNotCalled(t, "Delete", "manual-review", "manual-review/new.eml")
}

func TestPurgeOlderThan_ListFailure(t *testing.T) {
	client := &mockObjectClient{}
	client.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := NewArchiveService(client, "manual-review", getLogger()).PurgeOlderThan(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestNewR2ArchiveService_Disabled(t *testing.T) {
	assert.Nil(t, NewR2ArchiveService(&config.ArchiveConfig{Bucket: "manual-review"}, getLogger()))
}
