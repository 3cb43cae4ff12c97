package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/types"
)

var submitFlags documentFlags

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "上传文件到对象存储并投递解析请求",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitFlags.register(submitCmd.Flags())
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.MinIO.Endpoint == "" || cfg.RabbitMQ.URL == "" {
		return errors.New("submit 需要配置 minio.endpoint 和 rabbitmq.url")
	}

	doc, err := readDocument(args[0], submitFlags.mimeType)
	if err != nil {
		return err
	}
	// 与服务端一致，不支持的格式不进入队列
	if parser.ClassifyFormat(doc.MIMEType) == types.KindUnsupported {
		return fmt.Errorf("不支持的文档格式: %q", doc.MIMEType)
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	req := storage.IngestRequest{
		SubmissionID: uuid.NewString(),
		Filename:     doc.Filename,
		MIMEType:     doc.MIMEType,
		SubmittedAt:  now,
	}
	req.ObjectKey = storage.DocumentObjectKey(req.SubmissionID, doc.Filename, now)

	if _, err := st.MinIO.UploadDocument(ctx, req.ObjectKey, doc.Data, doc.MIMEType); err != nil {
		return err
	}
	if err := st.RabbitMQ.PublishJSON(ctx, cfg.RabbitMQ.IngestExchange, cfg.RabbitMQ.RequestRouteKey, req, true); err != nil {
		// 请求没投出去，上传的对象也没有意义
		if delErr := st.MinIO.DeleteDocument(ctx, req.ObjectKey); delErr != nil {
			logger.Warn().Err(delErr).Str("object_key", req.ObjectKey).Msg("清理已上传对象失败")
		}
		return err
	}

	logger.Info().
		Str("submission_id", req.SubmissionID).
		Str("object_key", req.ObjectKey).
		Msg("解析请求已投递")
	return writeJSON(cmd.OutOrStdout(), submitFlags.output, req)
}
