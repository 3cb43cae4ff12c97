package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/types"
	"cv-ingest/pkg/agent"
)

// documentFlags 本地文件类命令共用的参数
type documentFlags struct {
	mimeType string
	output   string
}

func (f *documentFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.mimeType, "mime", "m", "", "声明的 MIME 类型，为空时按扩展名推断")
	fs.StringVarP(&f.output, "output", "o", "", "结果写入的文件，为空时输出到标准输出")
}

func readDocument(path, declared string) (*types.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	mimeType := declared
	if mimeType == "" {
		mimeType = parser.MIMEFromFilename(path)
	}
	return &types.RawDocument{
		Data:     data,
		MIMEType: mimeType,
		Filename: filepath.Base(path),
	}, nil
}

func writeJSON(out io.Writer, path string, v any) error {
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// buildIngestService 组装流水线；st 为 nil 时不启用缓存和审计
func buildIngestService(ctx context.Context, c *config.Config, st *storage.Storage) (*processor.IngestService, error) {
	llm, err := agent.NewChatModelFromConfig(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("初始化补全模型失败: %w", err)
	}
	pipeline, err := processor.NewPipelineFromConfig(ctx, c, llm)
	if err != nil {
		return nil, fmt.Errorf("初始化流水线失败: %w", err)
	}

	var opts []processor.ServiceOption
	if st != nil {
		if st.Redis != nil {
			if ttl := config.GetDuration(c.Pipeline.CacheTTL, 0); ttl > 0 {
				opts = append(opts, processor.WithCache(st.Redis, ttl))
			}
		}
		if st.MySQL != nil {
			opts = append(opts, processor.WithRunRecorder(st.MySQL))
		}
	}
	logger.Info().
		Str("provider", c.Completion.Provider).
		Str("model", c.Completion.Model).
		Str("pdf_backend", c.Pipeline.PDFBackend).
		Int("window_size", c.Pipeline.WindowSize).
		Msg("流水线初始化完成")
	return processor.NewIngestService(pipeline, opts...), nil
}
