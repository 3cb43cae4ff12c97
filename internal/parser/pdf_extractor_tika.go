package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// TikaExtractor 基于 Apache Tika Server 的结构化解析，支持 PDF、.doc 和 .docx
type TikaExtractor struct {
	// Tika服务器地址，例如 http://localhost:9998
	ServerURL string
	Client    *http.Client
	// metadataMode: "full", "minimal", "none"
	metadataMode string
	logger       zerolog.Logger
}

// TikaOption 定义配置选项函数
type TikaOption func(*TikaExtractor)

// WithMetadataMode 配置元数据提取模式
func WithMetadataMode(mode string) TikaOption {
	return func(e *TikaExtractor) {
		e.metadataMode = mode
	}
}

func WithTikaLogger(l zerolog.Logger) TikaOption {
	return func(e *TikaExtractor) {
		e.logger = l
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaExtractor) {
		if timeout > 0 {
			e.Client.Timeout = timeout
		}
	}
}

var _ TextExtractor = (*TikaExtractor)(nil)

// NewTikaExtractor 创建Tika解析器
func NewTikaExtractor(serverURL string, options ...TikaOption) *TikaExtractor {
	e := &TikaExtractor{
		ServerURL:    strings.TrimRight(serverURL, "/"),
		Client:       &http.Client{Timeout: 60 * time.Second},
		metadataMode: "none",
		logger:       logger.Component("tika"),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *TikaExtractor) Strategy() types.Strategy { return types.StrategyStructural }

func (e *TikaExtractor) Name() string { return "tika" }

// Extract PUT /tika，以纯文本返回
func (e *TikaExtractor) Extract(ctx context.Context, doc *types.RawDocument, _ Scratch) (string, error) {
	if doc.Size() == 0 {
		return "", errors.New("文档内容为空")
	}
	startTime := time.Now()

	body, err := e.put(ctx, "/tika", "text/plain", doc)
	if err != nil {
		return "", err
	}
	text := string(body)

	event := e.logger.Debug().
		Str("content_type", NormalizeMIME(doc.MIMEType)).
		Int("length", TextLength(text)).
		Dur("duration", time.Since(startTime))

	if e.metadataMode == "full" || e.metadataMode == "minimal" {
		if meta, err := e.Metadata(ctx, doc); err == nil {
			for k, v := range meta {
				if e.metadataMode == "full" || isImportantMetadata(k) {
					event = event.Interface(k, v)
				}
			}
		} else {
			e.logger.Warn().Err(err).Msg("元数据提取失败, 忽略")
		}
	}
	event.Msg("Tika 解析完成")
	return text, nil
}

// Metadata PUT /meta，返回 JSON 元数据
func (e *TikaExtractor) Metadata(ctx context.Context, doc *types.RawDocument) (map[string]any, error) {
	body, err := e.put(ctx, "/meta", "application/json", doc)
	if err != nil {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("解析元数据JSON失败: %w", err)
	}
	return metadata, nil
}

func (e *TikaExtractor) put(ctx context.Context, path, accept string, doc *types.RawDocument) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+path, bytes.NewReader(doc.Data))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	contentType := NormalizeMIME(doc.MIMEType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	if doc.Filename != "" {
		req.Header.Set("X-Tika-Resource-Name", doc.Filename)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 422 表示文档无法解析
		return nil, fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取Tika响应失败: %w", err)
	}
	return data, nil
}

// isImportantMetadata minimal 模式下保留的元数据字段
func isImportantMetadata(key string) bool {
	switch key {
	case "xmpTPg:NPages", "meta:page-count", "dcterms:created", "language",
		"dc:title", "Content-Type", "pdf:PDFVersion", "pdf:totalUnmappedUnicodeChars",
		"extended-properties:Application":
		return true
	}
	return false
}
