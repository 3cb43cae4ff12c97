package outbox

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/storage/models"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent [][]byte
}

func (f *fakePublisher) PublishMessage(_ context.Context, _, _ string, message []byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("cv.ingest.exchange", "cv.ingest.completed", "sub-1", "cv.ingest.result",
		map[string]string{"status": "succeeded"})
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, "sub-1", msg.AggregateID)
	assert.JSONEq(t, `{"status":"succeeded"}`, string(msg.Payload))

	_, err = NewMessage("x", "y", "z", "e", make(chan int))
	assert.Error(t, err)
}

func TestRelay_Options(t *testing.T) {
	r := NewRelay(nil, &fakePublisher{},
		WithPollingInterval(time.Second),
		WithBatchSize(3),
		WithMaxRetries(2),
		WithLogger(logger.Nop()),
	)
	assert.Equal(t, time.Second, r.pollingInterval)
	assert.Equal(t, 3, r.batchSize)
	assert.Equal(t, 2, r.maxRetries)

	// 非正数保持默认值
	r = NewRelay(nil, &fakePublisher{}, WithPollingInterval(0), WithBatchSize(-1), WithMaxRetries(0))
	assert.Equal(t, defaultPollingInterval, r.pollingInterval)
	assert.Equal(t, defaultBatchSize, r.batchSize)
	assert.Equal(t, defaultMaxRetries, r.maxRetries)
}

func TestRelay_MarkRetry(t *testing.T) {
	r := NewRelay(nil, &fakePublisher{}, WithMaxRetries(2), WithLogger(logger.Nop()))
	msg := &models.OutboxMessage{ID: 7, Status: models.OutboxStatusPending}

	r.markRetry(msg, errors.New("connection refused"))
	assert.Equal(t, 1, msg.RetryCount)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, "connection refused", msg.ErrorMessage)

	r.markRetry(msg, errors.New("connection refused"))
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	r := NewRelay(nil, &fakePublisher{}, WithPollingInterval(time.Hour), WithLogger(logger.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run 没有在取消后退出")
	}
}

func TestRelay_ProcessPending(t *testing.T) {
	host := os.Getenv("CV_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("CV_TEST_MYSQL_HOST 未设置")
	}
	m, err := storage.NewMySQL(&config.MySQLConfig{
		Host:                  host,
		Port:                  3306,
		Username:              os.Getenv("CV_TEST_MYSQL_USER"),
		Password:              os.Getenv("CV_TEST_MYSQL_PASSWORD"),
		Database:              os.Getenv("CV_TEST_MYSQL_DATABASE"),
		MaxIdleConns:          2,
		MaxOpenConns:          4,
		ConnectTimeoutSeconds: 5,
		ReadTimeoutSeconds:    5,
		WriteTimeoutSeconds:   5,
		LogLevel:              1,
	}, logger.Nop())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	db := m.DB().WithContext(ctx)
	aggregateID := "relay-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		db.Where("aggregate_id = ?", aggregateID).Delete(&models.OutboxMessage{})
	})

	failing := &fakePublisher{err: errors.New("broker down")}
	r := NewRelay(m.DB(), failing, WithMaxRetries(1), WithLogger(logger.Nop()))
	require.NoError(t, r.Enqueue(ctx, "ex", "rk", aggregateID, "cv.ingest.result", map[string]int{"n": 1}))

	sent, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	var msg models.OutboxMessage
	require.NoError(t, db.Where("aggregate_id = ?", aggregateID).First(&msg).Error)
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)

	pub := &fakePublisher{}
	r = NewRelay(m.DB(), pub, WithLogger(logger.Nop()))
	require.NoError(t, r.Enqueue(ctx, "ex", "rk", aggregateID, "cv.ingest.result", map[string]int{"n": 2}))
	sent, err = r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sent, 1)
	assert.NotEmpty(t, pub.sent)
}
