package parser

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// mockTikaServer 记录收到的请求头
type mockTikaServer struct {
	*httptest.Server
	mu      sync.Mutex
	headers map[string]http.Header
}

func newMockTikaServer(t *testing.T, status int) *mockTikaServer {
	m := &mockTikaServer{headers: map[string]http.Header{}}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.headers[r.URL.Path] = r.Header.Clone()
		m.mu.Unlock()

		if r.Method != http.MethodPut || len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch r.URL.Path {
		case "/tika":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("  Jane Doe\nSenior Engineer\n"))
		case "/meta":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"xmpTPg:NPages":"2","Content-Type":"application/pdf","X-Parsed-By":"org.apache.tika.parser.pdf.PDFParser"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockTikaServer) header(path string) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers[path]
}

func TestNewTikaExtractorDefaults(t *testing.T) {
	e := NewTikaExtractor("http://localhost:9998/")
	assert.Equal(t, "http://localhost:9998", e.ServerURL)
	assert.Equal(t, 60*time.Second, e.Client.Timeout, "HTTP客户端超时应为60秒")
	assert.Equal(t, "none", e.metadataMode)
	assert.Equal(t, types.StrategyStructural, e.Strategy())

	e = NewTikaExtractor("http://tika", WithTimeout(5*time.Second), WithMetadataMode("full"))
	assert.Equal(t, 5*time.Second, e.Client.Timeout)
	assert.Equal(t, "full", e.metadataMode)
}

func TestTikaExtractorSendsDocument(t *testing.T) {
	server := newMockTikaServer(t, http.StatusOK)
	e := NewTikaExtractor(server.URL, WithMetadataMode("minimal"), WithTikaLogger(logger.Nop()))

	doc := &types.RawDocument{Data: []byte("PK\x03\x04"), MIMEType: MIMETypeDocx + "; charset=binary", Filename: "cv.docx"}
	text, err := e.Extract(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, "  Jane Doe\nSenior Engineer\n", text)

	h := server.header("/tika")
	require.NotNil(t, h)
	assert.Equal(t, MIMETypeDocx, h.Get("Content-Type"))
	assert.Equal(t, "text/plain", h.Get("Accept"))
	assert.Equal(t, "cv.docx", h.Get("X-Tika-Resource-Name"))

	// minimal 模式会请求元数据
	require.NotNil(t, server.header("/meta"))
	assert.Equal(t, "application/json", server.header("/meta").Get("Accept"))
}

func TestTikaExtractorMetadata(t *testing.T) {
	server := newMockTikaServer(t, http.StatusOK)
	e := NewTikaExtractor(server.URL, WithTikaLogger(logger.Nop()))

	meta, err := e.Metadata(context.Background(), &types.RawDocument{Data: []byte("%PDF"), MIMEType: MIMETypePDF})
	require.NoError(t, err)
	assert.Equal(t, "2", meta["xmpTPg:NPages"])
	assert.True(t, isImportantMetadata("xmpTPg:NPages"))
	assert.False(t, isImportantMetadata("X-Parsed-By"))
}

func TestTikaExtractorErrorStatus(t *testing.T) {
	server := newMockTikaServer(t, http.StatusUnprocessableEntity)
	e := NewTikaExtractor(server.URL, WithTikaLogger(logger.Nop()))

	_, err := e.Extract(context.Background(), &types.RawDocument{Data: []byte("garbage"), MIMEType: MIMETypeDoc}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestTikaExtractorUnreachable(t *testing.T) {
	e := NewTikaExtractor("http://127.0.0.1:1", WithTimeout(time.Second), WithTikaLogger(logger.Nop()))
	_, err := e.Extract(context.Background(), &types.RawDocument{Data: []byte("x"), MIMEType: MIMETypePDF}, nil)
	assert.Error(t, err)
}
