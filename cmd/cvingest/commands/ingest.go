package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cv-ingest/internal/processor"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/types"
)

// ingestReport ingest 命令的输出
type ingestReport struct {
	RunID       string                    `json:"run_id"`
	DocumentMD5 string                    `json:"document_md5"`
	CacheHit    bool                      `json:"cache_hit"`
	Tier        types.QualityTier         `json:"tier,omitempty"`
	Strategy    types.Strategy            `json:"strategy,omitempty"`
	Truncated   bool                      `json:"truncated"`
	States      []processor.RunState      `json:"states,omitempty"`
	Attempts    []types.ExtractionAttempt `json:"attempts,omitempty"`
	Diagnostics []string                  `json:"diagnostics,omitempty"`
	DurationMS  int64                     `json:"duration_ms,omitempty"`
	CV          *types.CanonicalCV        `json:"cv"`
}

var (
	ingestFlags   documentFlags
	ingestStored  bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "对单个文件执行完整流水线并输出结构化记录",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestFlags.register(ingestCmd.Flags())
	ingestCmd.Flags().BoolVar(&ingestStored, "with-storage", false, "启用配置中的 Redis 缓存和 MySQL 审计")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 2*time.Minute, "整次运行的超时时间，0 表示不限制")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ingestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ingestTimeout)
		defer cancel()
	}

	doc, err := readDocument(args[0], ingestFlags.mimeType)
	if err != nil {
		return err
	}

	var st *storage.Storage
	if ingestStored {
		st, err = storage.NewStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	service, err := buildIngestService(ctx, cfg, st)
	if err != nil {
		return err
	}

	outcome, err := service.Ingest(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s (%s): %w", processor.UserMessage(err), processor.KindOf(err), err)
	}

	report := ingestReport{
		RunID:       outcome.RunID,
		DocumentMD5: outcome.DocumentMD5,
		CacheHit:    outcome.CacheHit,
		CV:          outcome.CV,
	}
	if r := outcome.Result; r != nil {
		report.Tier = r.Tier
		report.Strategy = r.Strategy
		report.Truncated = r.Truncated
		report.States = r.States
		report.Attempts = r.Attempts
		report.Diagnostics = r.Diagnostics
		report.DurationMS = r.Duration.Milliseconds()
	}
	return writeJSON(cmd.OutOrStdout(), ingestFlags.output, report)
}
