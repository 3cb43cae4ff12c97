package processor

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/types"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func pdfDoc() *types.RawDocument {
	return &types.RawDocument{Data: []byte("%PDF-1.4 fake"), MIMEType: "application/pdf", Filename: "cv.pdf"}
}

// 场景 A：带清晰标题的文字处理文档
func TestProcessWordDocumentWithHeaders(t *testing.T) {
	f := newPipelineFixture(t)
	data := buildDocx(t, resumeParagraphs(100))
	require.GreaterOrEqual(t, len(data), 50*1024, "文档应约为 50KB")

	doc := &types.RawDocument{Data: data, MIMEType: docxMIME + "; charset=binary", Filename: "cv.docx"}
	res, err := f.pipeline.Process(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, types.TierSufficient, res.Tier)
	assert.False(t, res.Truncated)
	assert.NotEmpty(t, res.CV.Experience)
	assert.Contains(t, res.Sections, types.SectionExperience)
	assert.Contains(t, res.Sections, types.SectionEducation)
	assert.Equal(t, []RunState{
		StateSubmitted, StateClassified, StateTextExtracted, StateWindowed,
		StateCompletionRequested, StateCompletionParsed, StateNormalized,
	}, res.States)

	assert.Zero(t, f.structural.Calls(), "文字处理文档不走 PDF 策略")
	assert.Equal(t, int32(1), f.model.calls.Load())
	assert.Nil(t, doc.Data, "文档字节已释放")

	acme := res.CV.Experience[0]
	assert.True(t, acme.IsCurrent)
	assert.Nil(t, acme.EndDate)
	assert.Equal(t, types.ProficiencyNative, res.CV.Languages[0].Proficiency)
}

// 场景 B：扫描件，所有策略都不足 100 字符
func TestProcessScannedPDFInsufficientText(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.text = ""
	f.pattern.text = "%%EOF obj"
	f.ocr.text = "blurry"

	_, err := f.pipeline.Process(context.Background(), pdfDoc())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientText)
	assert.Equal(t, KindInsufficientText, KindOf(err))
	assert.Contains(t, UserMessage(err), "scanned")

	assert.Equal(t, 1, f.ocr.Calls(), "OCR 必须被调用")
	assert.Zero(t, f.model.calls.Load(), "不应请求补全")

	require.Len(t, f.ocr.Dirs(), 1)
	_, statErr := os.Stat(f.ocr.Dirs()[0])
	assert.True(t, os.IsNotExist(statErr), "OCR 临时目录应被删除")
	assert.Empty(t, f.tempEntries(t))
}

func TestProcessScannedPDFRecoveredByOCR(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.err = errors.New("no text layer")
	f.ocr.text = strings.Repeat("Experience at Acme as engineer. ", 40)

	res, err := f.pipeline.Process(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyOCR, res.Strategy)
	assert.Equal(t, types.TierSufficient, res.Tier)
	assert.Len(t, res.Attempts, 3)
	assert.Empty(t, f.tempEntries(t), "成功路径也要清理临时目录")
}

// 场景 C：补全结果带有额外的顶层字段
func TestProcessAcceptsUnexpectedTopLevelKeys(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.text = strings.Repeat("Jane Doe backend engineer. ", 60)
	f.model.content = strings.Replace(sampleCompletion, `"additionalSkills": []`,
		`"additionalSkills": [], "hobbies": ["chess"], "confidence": 0.93`, 1)

	res, err := f.pipeline.Process(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.Equal(t, "Jane", res.CV.Personal.FirstName)
	assert.Zero(t, f.pattern.Calls(), "结构解析已足够时不再继续")
}

// 场景 D：不支持的 MIME 类型在任何提取工作之前被拒绝
func TestProcessRejectsUnsupportedMIME(t *testing.T) {
	f := newPipelineFixture(t)
	doc := &types.RawDocument{Data: []byte("\x89PNG"), MIMEType: "image/png", Filename: "photo.png"}

	_, err := f.pipeline.Process(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, KindUnsupportedFormat, KindOf(err))

	assert.Zero(t, f.structural.Calls())
	assert.Zero(t, f.pattern.Calls())
	assert.Zero(t, f.ocr.Calls())
	assert.Zero(t, f.model.calls.Load())
	assert.Empty(t, f.tempEntries(t), "不应创建任何临时文件")
	assert.Nil(t, doc.Data)
}

func TestProcessCorruptedWordDocument(t *testing.T) {
	f := newPipelineFixture(t)
	doc := &types.RawDocument{Data: []byte("not a zip archive"), MIMEType: docxMIME, Filename: "broken.docx"}

	_, err := f.pipeline.Process(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentCorrupted)
	assert.ErrorIs(t, err, parser.ErrUnreadableDocument, "底层原因同样可见")

	var ie *IngestError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "extract", ie.Op)
	assert.NotEmpty(t, ie.RunID)
}

func TestProcessLegacyWordWithoutParser(t *testing.T) {
	f := newPipelineFixture(t)
	doc := &types.RawDocument{Data: []byte{0xD0, 0xCF, 0x11, 0xE0}, MIMEType: "application/msword", Filename: "old.doc"}

	_, err := f.pipeline.Process(context.Background(), doc)
	assert.Equal(t, KindDocumentCorrupted, KindOf(err))
}

func TestProcessCompletionServiceError(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.text = strings.Repeat("resume text ", 120)
	f.model.err = errors.New("429 too many requests")

	_, err := f.pipeline.Process(context.Background(), pdfDoc())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompletionService)
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(1), f.model.calls.Load(), "这一层不重试")
}

func TestProcessCompletionTimeout(t *testing.T) {
	f := newPipelineFixture(t, withCompletionTimeout(20*time.Millisecond))
	f.structural.text = strings.Repeat("resume text ", 120)
	f.model.delay = time.Second

	_, err := f.pipeline.Process(context.Background(), pdfDoc())
	require.Error(t, err)
	assert.Equal(t, KindCompletionService, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessMalformedCompletion(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.text = strings.Repeat("resume text ", 120)
	f.model.content = "Sorry, I cannot help with that."

	_, err := f.pipeline.Process(context.Background(), pdfDoc())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedCompletion)
	assert.ErrorIs(t, err, parser.ErrMalformedJSON)
	assert.False(t, Retryable(err))
}

func TestProcessCancelledDuringExtraction(t *testing.T) {
	f := newPipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Process(ctx, pdfDoc())
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Empty(t, f.tempEntries(t))
}

func TestProcessReleasesTempOnPanic(t *testing.T) {
	f := newPipelineFixture(t)
	panicking := &panickingChain{}
	p, err := NewPipeline(panicking, parser.NewCVExtractor(f.model), parser.NewNormalizer(),
		WithTempDir(f.tempDir))
	require.NoError(t, err)

	_, err = p.Process(context.Background(), pdfDoc())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotEmpty(t, panicking.dir)
	assert.Empty(t, f.tempEntries(t), "panic 路径也要清理")
}

// panickingChain 创建临时目录后 panic
type panickingChain struct {
	dir string
}

func (c *panickingChain) Extract(_ context.Context, _ *types.RawDocument, scratch parser.Scratch) (*types.ExtractedText, error) {
	dir, err := scratch.TempDir("panic-*")
	if err != nil {
		return nil, err
	}
	c.dir = dir
	panic("parser exploded")
}

func TestProcessTruncatesLongText(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.text = strings.Repeat("Experience line with lots of detail. ", 2000)

	p, err := NewPipeline(
		parser.NewExtractionChain(f.structural, f.pattern),
		parser.NewCVExtractor(f.model),
		parser.NewNormalizer(),
		WithWindowSize(5000),
		WithTempDir(f.tempDir),
	)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	sent := f.model.UserContent()
	assert.LessOrEqual(t, len([]rune(sent)), 5000)
	assert.Equal(t, 2, strings.Count(sent, "[...truncated...]"))
}

func TestProcessWindowFitsRequestBudget(t *testing.T) {
	f := newPipelineFixture(t)
	f.structural.text = strings.Repeat("Experience line with lots of detail. ", 2000)

	extractor := parser.NewCVExtractor(f.model, parser.WithMaxRequestChars(24000), parser.WithCVExtractorLogger(logger.Nop()))
	p, err := NewPipeline(
		parser.NewExtractionChain(f.structural, f.pattern),
		extractor,
		parser.NewNormalizer(),
		WithWindowSize(24000),
		WithTempDir(f.tempDir),
		WithLogger(logger.Nop()),
	)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), pdfDoc())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	sent := f.model.UserContent()
	assert.LessOrEqual(t, len([]rune(sent)), extractor.TextBudget())
	assert.Equal(t, 2, strings.Count(sent, "[...truncated...]"), "请求构建时不应再次截断")
}

func TestNewPipelineRequiresComponents(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil)
	assert.Error(t, err)
}
