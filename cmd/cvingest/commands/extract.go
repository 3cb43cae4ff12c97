package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/types"
)

// extractReport extract 命令的输出，不调用补全服务
type extractReport struct {
	Filename   string                       `json:"filename"`
	Kind       types.DocumentKind           `json:"kind"`
	Tier       types.QualityTier            `json:"tier"`
	Strategy   types.Strategy               `json:"strategy"`
	TextLength int                          `json:"text_length"`
	Headers    int                          `json:"headers"`
	Sections   map[types.SectionType]string `json:"sections,omitempty"`
	Attempts   []types.ExtractionAttempt    `json:"attempts,omitempty"`
	Truncated  bool                         `json:"truncated"`
	Window     string                       `json:"window,omitempty"`
}

var (
	extractFlags documentFlags
	showWindow   bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "只执行文本提取、分段和窗口化，不调用补全服务",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractFlags.register(extractCmd.Flags())
	extractCmd.Flags().BoolVar(&showWindow, "window", false, "输出送入补全服务的窗口文本")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	doc, err := readDocument(args[0], extractFlags.mimeType)
	if err != nil {
		return err
	}

	kind := parser.ClassifyFormat(doc.MIMEType)
	if kind == types.KindUnsupported {
		return fmt.Errorf("%w: %q", processor.ErrUnsupportedFormat, doc.MIMEType)
	}

	chain, err := processor.NewExtractionChainFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	guard := processor.NewResourceGuard(cfg.Pipeline.TempDir, logger.Component("extract"))
	defer guard.Release()

	extracted, err := chain.Extract(ctx, doc, guard)
	doc.Release()
	if err != nil {
		return err
	}

	seg := parser.SegmentSections(extracted.Content)
	text := extracted.Content
	if cfg.Pipeline.AnnotateSections {
		text = seg.Annotated
	}
	window, truncated := parser.WindowText(text, cfg.Pipeline.WindowSize)

	report := extractReport{
		Filename:   filepath.Base(args[0]),
		Kind:       kind,
		Tier:       extracted.Tier,
		Strategy:   extracted.Strategy,
		TextLength: parser.TextLength(extracted.Content),
		Headers:    seg.Headers,
		Sections:   seg.ByType,
		Attempts:   extracted.Attempts,
		Truncated:  truncated,
	}
	if showWindow {
		report.Window = window
	}
	if extracted.Tier == types.TierEmpty {
		fmt.Fprintln(cmd.ErrOrStderr(), "警告: 提取到的文本不足，完整流水线会以 insufficient_text 失败")
	}
	return writeJSON(cmd.OutOrStdout(), extractFlags.output, report)
}
