package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/outbox"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "消费解析请求队列",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if cfg.MinIO.Endpoint == "" || cfg.RabbitMQ.URL == "" {
		return errors.New("worker 需要配置 minio.endpoint 和 rabbitmq.url")
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	service, err := buildIngestService(ctx, cfg, st)
	if err != nil {
		return err
	}

	opts := []worker.Option{worker.WithLogger(logger.Component("worker"))}
	if cfg.Server.MaxUploadMB > 0 {
		opts = append(opts, worker.WithMaxDocumentBytes(int64(cfg.Server.MaxUploadMB)<<20))
	}
	if st.MySQL != nil {
		relay := outbox.NewRelay(st.MySQL.DB(), st.RabbitMQ, outbox.WithLogger(logger.Component("outbox_relay")))
		go relay.Run(ctx)
		opts = append(opts, worker.WithResultFallback(relay))
	}
	w := worker.New(st.MinIO, st.RabbitMQ, service, cfg.RabbitMQ, opts...)

	logger.Info().
		Str("queue", cfg.RabbitMQ.RequestQueue).
		Int("workers", cfg.RabbitMQ.Workers).
		Msg("开始消费解析请求")
	if err := w.Run(ctx, st.RabbitMQ); err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	logger.Info().Msg("worker 已退出")
	return nil
}
