package commands

import (
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/cobra"

	"cv-ingest/internal/api/handler"
	"cv-ingest/internal/api/router"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/storage"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 解析服务",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "监听地址，覆盖 server.address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	hlog.Info("存储服务初始化成功")

	service, err := buildIngestService(ctx, cfg, st)
	if err != nil {
		return err
	}

	opts := []handler.Option{handler.WithLogger(logger.Component("cv_handler"))}
	if cfg.Server.MaxUploadMB > 0 {
		opts = append(opts, handler.WithMaxUploadBytes(int64(cfg.Server.MaxUploadMB)<<20))
	}
	if st.Redis != nil {
		opts = append(opts, handler.WithLocker(st.Redis), handler.WithHealthCheck("redis", st.Redis))
	}
	if st.MySQL != nil {
		opts = append(opts, handler.WithHealthCheck("mysql", st.MySQL))
	}
	cvHandler := handler.NewCVHandler(service, opts...)

	h := router.NewServer(cfg.Server, cvHandler)
	hlog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	// Spin 阻塞直到收到 SIGINT/SIGTERM 并完成优雅退出
	h.Spin()
	hlog.Info("优雅退出完成")
	return nil
}
