package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/tracing"
)

var (
	cfgFile string

	// 以下由 PersistentPreRunE 填充
	cfg           *config.Config
	logCloser     io.Closer
	traceShutdown tracing.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "cvingest",
	Short: "简历文档解析流水线",
	Long: `cvingest 将 PDF / Word 简历转换为结构化的 JSON 记录。

可以作为 HTTP 服务 (serve)、队列消费者 (worker) 运行，
也可以直接在本地处理单个文件 (extract / ingest)。`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, "config", "c", "", "配置文件路径，为空时按默认路径查找")
}

// Execute 执行根命令，SIGINT/SIGTERM 会取消命令的 context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations["skip-setup"] == "true" {
		return nil
	}

	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logCloser, err = logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Logger.File,
	})
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	hlog.SetLogger(hertzadapter.From(logger.Logger))

	if cfg.Tracing.Enabled {
		traceShutdown, err = tracing.InitProvider(cmd.Context(), tracing.ProviderConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("初始化追踪失败: %w", err)
		}
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := traceShutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("关闭追踪失败")
		}
		cancel()
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
}
