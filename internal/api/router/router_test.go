package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/api/handler"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/types"
)

type fakeIngestor struct {
	mu      sync.Mutex
	outcome *processor.IngestOutcome
	err     error
	docs    []*types.RawDocument
}

func (f *fakeIngestor) Ingest(_ context.Context, doc *types.RawDocument) (*processor.IngestOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return f.outcome, f.err
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (string, error) {
	if l.held {
		return "", nil
	}
	return "token", nil
}

func (l *fakeLocker) ReleaseLock(context.Context, string, string) (bool, error) {
	l.released++
	return true, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newEngine(h *handler.CVHandler, keys []string) *server.Hertz {
	engine := server.New(server.WithHostPorts("127.0.0.1:0"))
	RegisterRoutes(engine, h, keys)
	return engine
}

func multipartBody(t *testing.T, filename, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postIngest(engine *server.Hertz, body *bytes.Buffer, contentType string, headers ...ut.Header) *ut.ResponseRecorder {
	headers = append(headers, ut.Header{Key: "Content-Type", Value: contentType})
	return ut.PerformRequest(engine.Engine, "POST", "/api/v1/cv/ingest",
		&ut.Body{Body: body, Len: body.Len()}, headers...)
}

func successOutcome() *processor.IngestOutcome {
	cv := types.NewEmptyCV()
	cv.Personal.FirstName = "Ada"
	return &processor.IngestOutcome{
		RunID:       "run-1",
		DocumentMD5: "abc",
		CV:          cv,
		Result: &processor.Result{
			Tier:      types.TierSufficient,
			Strategy:  types.StrategyStructural,
			Truncated: true,
		},
	}
}

func TestIngest_Success(t *testing.T) {
	ing := &fakeIngestor{outcome: successOutcome()}
	locker := &fakeLocker{}
	engine := newEngine(handler.NewCVHandler(ing, handler.WithLocker(locker), handler.WithLogger(logger.Nop())), nil)

	body, ct := multipartBody(t, "resume.pdf", "application/pdf", []byte("%PDF-1.4 test"), nil)
	resp := postIngest(engine, body, ct)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var got handler.IngestResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, types.TierSufficient, got.Tier)
	assert.True(t, got.Truncated)
	assert.Equal(t, "Ada", got.CV.Personal.FirstName)

	require.Len(t, ing.docs, 1)
	assert.Equal(t, "application/pdf", ing.docs[0].MIMEType)
	assert.Equal(t, "resume.pdf", ing.docs[0].Filename)
	assert.Equal(t, 1, locker.released)
}

func TestIngest_MIMEFromFormFieldAndFilename(t *testing.T) {
	ing := &fakeIngestor{outcome: successOutcome()}
	engine := newEngine(handler.NewCVHandler(ing, handler.WithLogger(logger.Nop())), nil)

	body, ct := multipartBody(t, "cv.docx", "application/octet-stream", []byte("PK"), nil)
	resp := postIngest(engine, body, ct)
	require.Equal(t, http.StatusOK, resp.Code)

	body, ct = multipartBody(t, "cv.bin", "", []byte("%PDF"), map[string]string{"mime_type": "application/pdf"})
	resp = postIngest(engine, body, ct)
	require.Equal(t, http.StatusOK, resp.Code)

	require.Len(t, ing.docs, 2)
	assert.Contains(t, ing.docs[0].MIMEType, "wordprocessingml")
	assert.Equal(t, "application/pdf", ing.docs[1].MIMEType)
}

func TestIngest_UnsupportedRejectedBeforeIngest(t *testing.T) {
	ing := &fakeIngestor{outcome: successOutcome()}
	engine := newEngine(handler.NewCVHandler(ing, handler.WithLogger(logger.Nop())), nil)

	body, ct := multipartBody(t, "photo.png", "image/png", []byte{0x89, 'P', 'N', 'G'}, nil)
	resp := postIngest(engine, body, ct)

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Code)
	var got handler.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, string(processor.KindUnsupportedFormat), got.ErrorKind)
	assert.False(t, got.Retryable)
	assert.Empty(t, ing.docs)
}

func TestIngest_ErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{processor.ErrDocumentCorrupted, http.StatusUnprocessableEntity},
		{processor.ErrInsufficientText, http.StatusUnprocessableEntity},
		{processor.ErrCompletionService, http.StatusServiceUnavailable},
		{processor.ErrMalformedCompletion, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			ing := &fakeIngestor{err: fmt.Errorf("run failed: %w", tc.err)}
			engine := newEngine(handler.NewCVHandler(ing, handler.WithLogger(logger.Nop())), nil)

			body, ct := multipartBody(t, "resume.pdf", "application/pdf", []byte("%PDF"), nil)
			resp := postIngest(engine, body, ct)
			assert.Equal(t, tc.status, resp.Code)

			var got handler.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
			assert.Equal(t, string(processor.KindOf(tc.err)), got.ErrorKind)
			assert.NotEmpty(t, got.Message)
			assert.Equal(t, processor.Retryable(tc.err), got.Retryable)
		})
	}
}

func TestIngest_MissingFile(t *testing.T) {
	engine := newEngine(handler.NewCVHandler(&fakeIngestor{}, handler.WithLogger(logger.Nop())), nil)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("mime_type", "application/pdf"))
	require.NoError(t, w.Close())

	resp := postIngest(engine, body, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestIngest_TooLarge(t *testing.T) {
	ing := &fakeIngestor{outcome: successOutcome()}
	engine := newEngine(handler.NewCVHandler(ing, handler.WithMaxUploadBytes(10), handler.WithLogger(logger.Nop())), nil)

	body, ct := multipartBody(t, "resume.pdf", "application/pdf", bytes.Repeat([]byte("a"), 64), nil)
	resp := postIngest(engine, body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	assert.Empty(t, ing.docs)
}

func TestIngest_DocumentLocked(t *testing.T) {
	ing := &fakeIngestor{outcome: successOutcome()}
	engine := newEngine(handler.NewCVHandler(ing, handler.WithLocker(&fakeLocker{held: true}), handler.WithLogger(logger.Nop())), nil)

	body, ct := multipartBody(t, "resume.pdf", "application/pdf", []byte("%PDF"), nil)
	resp := postIngest(engine, body, ct)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Empty(t, ing.docs)
}

func TestAPIKeyAuth(t *testing.T) {
	ing := &fakeIngestor{outcome: successOutcome()}
	engine := newEngine(handler.NewCVHandler(ing, handler.WithLogger(logger.Nop())), []string{"secret-key"})

	body, ct := multipartBody(t, "resume.pdf", "application/pdf", []byte("%PDF"), nil)
	resp := postIngest(engine, body, ct)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	body, ct = multipartBody(t, "resume.pdf", "application/pdf", []byte("%PDF"), nil)
	resp = postIngest(engine, body, ct, ut.Header{Key: "Authorization", Value: "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	body, ct = multipartBody(t, "resume.pdf", "application/pdf", []byte("%PDF"), nil)
	resp = postIngest(engine, body, ct, ut.Header{Key: "Authorization", Value: "Bearer secret-key"})
	assert.Equal(t, http.StatusOK, resp.Code)

	// 健康检查不需要认证
	resp = ut.PerformRequest(engine.Engine, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestHealth(t *testing.T) {
	engine := newEngine(handler.NewCVHandler(&fakeIngestor{},
		handler.WithHealthCheck("redis", fakePinger{}),
		handler.WithLogger(logger.Nop())), nil)
	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"ok"`)

	engine = newEngine(handler.NewCVHandler(&fakeIngestor{},
		handler.WithHealthCheck("redis", fakePinger{err: errors.New("dial tcp: refused")}),
		handler.WithLogger(logger.Nop())), nil)
	resp = ut.PerformRequest(engine.Engine, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "degraded")
}
