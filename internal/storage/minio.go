package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"cv-ingest/internal/config"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/tracing"
)

var minioTracer = otel.Tracer("cv-ingest/storage/minio")

// ErrObjectTooLarge 对象超过允许的下载大小
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// MinIO 上传文档的对象存储
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger zerolog.Logger
}

// NewMinIO 创建客户端并确保上传桶存在
func NewMinIO(cfg *config.MinIOConfig, l zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	bucket := cfg.UploadsBucket
	if bucket == "" {
		bucket = "cv-uploads"
	}
	m := &MinIO{client: client, cfg: cfg, bucket: bucket, logger: l}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucketExists(ctx, bucket, cfg.Location); err != nil {
		return nil, err
	}
	if cfg.UploadExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, bucket, "expire-cv-uploads", cfg.UploadExpireDays); err != nil {
			// 生命周期失败不影响使用
			m.logger.Warn().Err(err).Str("bucket", bucket).Msg("设置生命周期规则失败")
		}
	}

	m.logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", bucket).Msg("MinIO客户端初始化成功")
	return m, nil
}

// Bucket 上传桶名称
func (m *MinIO) Bucket() string {
	return m.bucket
}

func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Info().Str("bucket", bucketName).Msg("存储桶已创建")
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, cfg)
}

// DocumentObjectKey 上传文档的对象键: uploads/{yyyy/mm/dd}/{submissionID}{ext}
func DocumentObjectKey(submissionID, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("uploads/%s/%s%s", now.UTC().Format("2006/01/02"), submissionID, ext)
}

// UploadDocument 上传原始文档，返回对象键
func (m *MinIO) UploadDocument(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.UploadDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("object.bucket", m.bucket),
		attribute.String("object.key", tracing.SafeFilename(objectKey)),
		attribute.Int("object.size", len(data)),
	)

	if contentType == "" {
		contentType = parser.MIMEFromFilename(objectKey)
	}
	info, err := m.client.PutObject(ctx, m.bucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeStorage)
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	m.logger.Debug().Str("key", objectKey).Int64("size", info.Size).Str("etag", info.ETag).Msg("文档已上传")
	return objectKey, nil
}

// DownloadDocument 下载文档字节与其 Content-Type，maxBytes > 0 时限制大小
func (m *MinIO) DownloadDocument(ctx context.Context, objectKey string, maxBytes int64) ([]byte, string, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.DownloadDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("object.bucket", m.bucket),
		attribute.String("object.key", tracing.SafeFilename(objectKey)),
	)

	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeStorage)
		return nil, "", fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeStorage)
		return nil, "", fmt.Errorf("获取对象 %s/%s 状态失败: %w", m.bucket, objectKey, err)
	}
	if maxBytes > 0 && stat.Size > maxBytes {
		return nil, "", fmt.Errorf("%w: %d > %d", ErrObjectTooLarge, stat.Size, maxBytes)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeStorage)
		return nil, "", fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, objectKey, err)
	}
	span.SetAttributes(attribute.Int("object.size", len(data)))
	return data, stat.ContentType, nil
}

// DeleteDocument 删除对象
func (m *MinIO) DeleteDocument(ctx context.Context, objectKey string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	return nil
}
