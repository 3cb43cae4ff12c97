package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/types"
)

type fakeStore struct {
	data        []byte
	contentType string
	err         error
	keys        []string
}

func (s *fakeStore) DownloadDocument(_ context.Context, key string, _ int64) ([]byte, string, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return nil, "", s.err
	}
	return s.data, s.contentType, nil
}

type published struct {
	exchange   string
	routingKey string
	result     storage.IngestResult
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []published
}

func (p *fakePublisher) PublishJSON(_ context.Context, exchange, routingKey string, data any, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, routingKey: routingKey, result: data.(storage.IngestResult)})
	return nil
}

type fakeIngestor struct {
	outcome *processor.IngestOutcome
	err     error
	docs    []*types.RawDocument
}

func (f *fakeIngestor) Ingest(_ context.Context, doc *types.RawDocument) (*processor.IngestOutcome, error) {
	f.docs = append(f.docs, doc)
	return f.outcome, f.err
}

var testMQ = config.RabbitMQConfig{
	IngestExchange:   "cv.ingest.exchange",
	RequestQueue:     "q.requests",
	RequestRouteKey:  "cv.ingest.requested",
	ResultRoutingKey: "cv.ingest.completed",
	PrefetchCount:    2,
	Workers:          2,
}

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestWorker(store *fakeStore, pub *fakePublisher, ing *fakeIngestor) *Worker {
	return New(store, pub, ing, testMQ, WithLogger(logger.Nop()), withClock(func() time.Time { return fixedNow }))
}

func delivery(t *testing.T, req storage.IngestRequest, redelivered bool) storage.Delivery {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return storage.Delivery{Body: body, MessageID: "m-1", Redelivered: redelivered}
}

var sampleRequest = storage.IngestRequest{
	SubmissionID: "sub-1",
	ObjectKey:    "uploads/2025/05/01/sub-1.pdf",
	Filename:     "resume.pdf",
}

func TestHandle_Success(t *testing.T) {
	store := &fakeStore{data: []byte("%PDF-1.4"), contentType: "application/octet-stream"}
	pub := &fakePublisher{}
	cv := types.NewEmptyCV()
	cv.Personal.FirstName = "Ada"
	ing := &fakeIngestor{outcome: &processor.IngestOutcome{RunID: "run-1", CV: cv}}

	got := newTestWorker(store, pub, ing).Handle(context.Background(), delivery(t, sampleRequest, false))

	assert.Equal(t, storage.Ack, got)
	require.Len(t, ing.docs, 1)
	assert.Equal(t, "application/pdf", ing.docs[0].MIMEType, "octet-stream 时按文件名推断")
	assert.Equal(t, []string{sampleRequest.ObjectKey}, store.keys)

	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, testMQ.IngestExchange, msg.exchange)
	assert.Equal(t, testMQ.ResultRoutingKey, msg.routingKey)
	assert.Equal(t, storage.IngestStatusSucceeded, msg.result.Status)
	assert.Equal(t, "run-1", msg.result.RunID)
	assert.Equal(t, "Ada", msg.result.CV.Personal.FirstName)
	assert.Equal(t, fixedNow, msg.result.CompletedAt)
}

func TestHandle_DeclaredMIMEWins(t *testing.T) {
	store := &fakeStore{data: []byte("x"), contentType: "application/pdf"}
	ing := &fakeIngestor{outcome: &processor.IngestOutcome{RunID: "run-1", CV: types.NewEmptyCV()}}
	req := sampleRequest
	req.MIMEType = "image/png"

	newTestWorker(store, &fakePublisher{}, ing).Handle(context.Background(), delivery(t, req, false))
	require.Len(t, ing.docs, 1)
	assert.Equal(t, "image/png", ing.docs[0].MIMEType)
}

func TestHandle_CompletionErrorRequeuedOnce(t *testing.T) {
	pub := &fakePublisher{}
	ing := &fakeIngestor{err: fmt.Errorf("补全失败: %w", processor.ErrCompletionService)}
	w := newTestWorker(&fakeStore{data: []byte("x")}, pub, ing)

	assert.Equal(t, storage.Requeue, w.Handle(context.Background(), delivery(t, sampleRequest, false)))
	assert.Empty(t, pub.sent)

	assert.Equal(t, storage.Ack, w.Handle(context.Background(), delivery(t, sampleRequest, true)))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, storage.IngestStatusFailed, pub.sent[0].result.Status)
	assert.Equal(t, string(processor.KindCompletionService), pub.sent[0].result.ErrorKind)
	assert.Contains(t, pub.sent[0].result.ErrorMessage, "busy")
}

func TestHandle_NonRetryableFailurePublished(t *testing.T) {
	pub := &fakePublisher{}
	ing := &fakeIngestor{err: fmt.Errorf("wrap: %w", processor.ErrInsufficientText)}

	got := newTestWorker(&fakeStore{data: []byte("x")}, pub, ing).
		Handle(context.Background(), delivery(t, sampleRequest, false))

	assert.Equal(t, storage.Ack, got)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, string(processor.KindInsufficientText), pub.sent[0].result.ErrorKind)
	assert.Contains(t, pub.sent[0].result.ErrorMessage, "scanned")
	assert.Nil(t, pub.sent[0].result.CV)
}

func TestHandle_CancelledRequeued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ing := &fakeIngestor{err: context.Canceled}
	pub := &fakePublisher{}

	got := newTestWorker(&fakeStore{data: []byte("x")}, pub, ing).Handle(ctx, delivery(t, sampleRequest, false))
	assert.Equal(t, storage.Requeue, got)
	assert.Empty(t, pub.sent)
}

func TestHandle_DownloadFailure(t *testing.T) {
	pub := &fakePublisher{}
	ing := &fakeIngestor{}
	w := newTestWorker(&fakeStore{err: errors.New("connection refused")}, pub, ing)

	assert.Equal(t, storage.Requeue, w.Handle(context.Background(), delivery(t, sampleRequest, false)))
	assert.Equal(t, storage.Ack, w.Handle(context.Background(), delivery(t, sampleRequest, true)))
	assert.Empty(t, ing.docs)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, string(processor.KindInternal), pub.sent[0].result.ErrorKind)
}

func TestHandle_DocumentTooLarge(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(&fakeStore{err: fmt.Errorf("%w: 30 > 20", storage.ErrObjectTooLarge)}, pub, &fakeIngestor{})

	assert.Equal(t, storage.Ack, w.Handle(context.Background(), delivery(t, sampleRequest, false)))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, string(KindInvalidRequest), pub.sent[0].result.ErrorKind)
	assert.Contains(t, pub.sent[0].result.ErrorMessage, "too large")
}

func TestHandle_BadMessages(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(&fakeStore{}, pub, &fakeIngestor{})

	assert.Equal(t, storage.Drop, w.Handle(context.Background(), storage.Delivery{Body: []byte("{not json")}))
	assert.Equal(t, storage.Drop, w.Handle(context.Background(), delivery(t, storage.IngestRequest{ObjectKey: "k"}, false)))

	got := w.Handle(context.Background(), delivery(t, storage.IngestRequest{SubmissionID: "sub-9"}, false))
	assert.Equal(t, storage.Ack, got)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, string(KindInvalidRequest), pub.sent[0].result.ErrorKind)
}

func TestHandle_PublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ing := &fakeIngestor{outcome: &processor.IngestOutcome{RunID: "run-1", CV: types.NewEmptyCV()}}
	w := newTestWorker(&fakeStore{data: []byte("x")}, pub, ing)

	assert.Equal(t, storage.Requeue, w.Handle(context.Background(), delivery(t, sampleRequest, false)))
	assert.Equal(t, storage.Drop, w.Handle(context.Background(), delivery(t, sampleRequest, true)))
}

type fakeFallback struct {
	err         error
	aggregateID string
	eventType   string
	payload     any
}

func (f *fakeFallback) Enqueue(_ context.Context, _, _, aggregateID, eventType string, payload any) error {
	f.aggregateID = aggregateID
	f.eventType = eventType
	f.payload = payload
	return f.err
}

func TestHandle_PublishFailureWrittenToOutbox(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ing := &fakeIngestor{outcome: &processor.IngestOutcome{RunID: "run-1", CV: types.NewEmptyCV()}}
	fb := &fakeFallback{}
	w := New(&fakeStore{data: []byte("x")}, pub, ing, testMQ,
		WithLogger(logger.Nop()), WithResultFallback(fb), withClock(func() time.Time { return fixedNow }))

	assert.Equal(t, storage.Ack, w.Handle(context.Background(), delivery(t, sampleRequest, false)))
	assert.Equal(t, "sub-1", fb.aggregateID)
	assert.Equal(t, ResultEventType, fb.eventType)
	result, ok := fb.payload.(storage.IngestResult)
	require.True(t, ok)
	assert.Equal(t, storage.IngestStatusSucceeded, result.Status)
	assert.Equal(t, fixedNow, result.CompletedAt)

	// 发件箱也写不进去时退回原有的重投逻辑
	fb.err = errors.New("db down")
	assert.Equal(t, storage.Requeue, w.Handle(context.Background(), delivery(t, sampleRequest, false)))
}

type fakeConsumer struct {
	mu       sync.Mutex
	started  int
	queue    string
	prefetch int
	err      error
}

func (c *fakeConsumer) StartConsumer(ctx context.Context, queue string, prefetch int, _ storage.DeliveryHandler) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.started++
	c.queue = queue
	c.prefetch = prefetch
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return done, nil
}

func TestRun_StartsConfiguredConsumers(t *testing.T) {
	consumer := &fakeConsumer{}
	w := newTestWorker(&fakeStore{}, &fakePublisher{}, &fakeIngestor{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Run(ctx, consumer)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, consumer.started)
	assert.Equal(t, testMQ.RequestQueue, consumer.queue)
	assert.Equal(t, 2, consumer.prefetch)
}

func TestRun_StartError(t *testing.T) {
	w := newTestWorker(&fakeStore{}, &fakePublisher{}, &fakeIngestor{})
	err := w.Run(context.Background(), &fakeConsumer{err: errors.New("no channel")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no channel")
}
