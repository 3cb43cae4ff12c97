package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
)

// NewExtractionChainFromConfig 按配置组装提取链
func NewExtractionChainFromConfig(ctx context.Context, cfg *config.Config) (*parser.ExtractionChain, error) {
	var tika *parser.TikaExtractor
	if cfg.Tika.ServerURL != "" {
		tikaOptions := []parser.TikaOption{
			parser.WithMetadataMode(cfg.Tika.MetadataMode),
			parser.WithTikaLogger(logger.Component("tika")),
		}
		if cfg.Tika.Timeout > 0 {
			tikaOptions = append(tikaOptions, parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		tika = parser.NewTikaExtractor(cfg.Tika.ServerURL, tikaOptions...)
	}

	var structural parser.TextExtractor
	switch cfg.Pipeline.PDFBackend {
	case "tika":
		if tika == nil {
			return nil, fmt.Errorf("pdf_backend tika requires tika.server_url")
		}
		structural = tika
	case "ledongthuc":
		structural = parser.NewLedongthucPDFExtractor(logger.Component("pdf_ledongthuc"))
	default:
		eino, err := parser.NewEinoPDFExtractor(ctx, parser.WithEinoLogger(logger.Component("pdf_eino")))
		if err != nil {
			return nil, err
		}
		structural = eino
	}

	chainOptions := []parser.ChainOption{
		parser.WithPatternAcceptLength(cfg.Pipeline.PatternAcceptLength),
		parser.WithChainLogger(logger.Component("extraction_chain")),
	}

	// .docx 优先走 Tika，没有 Tika 时使用内置解析；.doc 只能走 Tika
	if tika != nil {
		chainOptions = append(chainOptions,
			parser.WithWordExtractor(tika),
			parser.WithLegacyWordExtractor(tika),
		)
	} else {
		chainOptions = append(chainOptions, parser.WithWordExtractor(parser.DocxExtractor{}))
	}

	if cfg.OCR.Enabled {
		ocr := parser.NewOCRExtractor(
			parser.NewFitzRasterizer(float64(cfg.OCR.DPI), cfg.OCR.MaxPages),
			parser.WithTesseractBinary(cfg.OCR.Tesseract),
			parser.WithOCRLanguage(cfg.OCR.Language),
			parser.WithOCRWorkers(cfg.OCR.Workers),
			parser.WithOCRTimeout(config.GetDuration(cfg.OCR.Timeout, 90*time.Second)),
			parser.WithOCRLogger(logger.Component("ocr")),
		)
		chainOptions = append(chainOptions, parser.WithOCR(ocr))
	}

	pattern := parser.NewPatternScanExtractor(parser.WithPatternScanLogger(logger.Component("pattern_scan")))
	return parser.NewExtractionChain(structural, pattern, chainOptions...), nil
}

// NewCVExtractorFromConfig 创建补全客户端
func NewCVExtractorFromConfig(cfg *config.Config, llm model.ToolCallingChatModel) (*parser.CVExtractor, error) {
	options := []parser.CVExtractorOption{
		parser.WithCompletionTimeout(config.GetDuration(cfg.Completion.Timeout, 60*time.Second)),
		parser.WithMaxRequestChars(cfg.Pipeline.MaxRequestChars),
		parser.WithCVExtractorLogger(logger.Component("cv_extractor")),
	}
	if cfg.Pipeline.ValidateSchema {
		validator, err := parser.NewSchemaValidator()
		if err != nil {
			return nil, fmt.Errorf("failed to compile completion schema: %w", err)
		}
		options = append(options, parser.WithSchemaValidator(validator))
	}
	return parser.NewCVExtractor(llm, options...), nil
}

// NewPipelineFromConfig 组装完整流水线，llm 由调用方按 provider 创建
func NewPipelineFromConfig(ctx context.Context, cfg *config.Config, llm model.ToolCallingChatModel) (*Pipeline, error) {
	chain, err := NewExtractionChainFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction chain: %w", err)
	}
	extractor, err := NewCVExtractorFromConfig(cfg, llm)
	if err != nil {
		return nil, err
	}
	return NewPipeline(chain, extractor, parser.NewNormalizer(),
		WithWindowSize(cfg.Pipeline.WindowSize),
		WithAnnotateSections(cfg.Pipeline.AnnotateSections),
		WithTempDir(cfg.Pipeline.TempDir),
	)
}
