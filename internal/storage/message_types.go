package storage

import (
	"time"

	"cv-ingest/internal/types"
)

// IngestRequest 解析请求消息，文档已上传到 MinIO
type IngestRequest struct {
	SubmissionID string    `json:"submission_id"`
	ObjectKey    string    `json:"object_key"`
	Filename     string    `json:"filename"`
	MIMEType     string    `json:"mime_type,omitempty"` // 为空时按文件名推断
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
}

// 结果状态
const (
	IngestStatusSucceeded = "succeeded"
	IngestStatusFailed    = "failed"
)

// IngestResult 解析结果消息
type IngestResult struct {
	SubmissionID string             `json:"submission_id"`
	RunID        string             `json:"run_id,omitempty"`
	Status       string             `json:"status"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CacheHit     bool               `json:"cache_hit,omitempty"`
	CV           *types.CanonicalCV `json:"cv,omitempty"`
	CompletedAt  time.Time          `json:"completed_at"`
}
