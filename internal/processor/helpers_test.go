package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/types"
)

// scriptedExtractor 返回预设文本的提取策略，可选地在 scratch 中创建临时目录
type scriptedExtractor struct {
	strategy   types.Strategy
	text       string
	err        error
	useScratch bool
	panicWith  any

	mu    sync.Mutex
	calls int
	dirs  []string
}

func (s *scriptedExtractor) Strategy() types.Strategy { return s.strategy }

func (s *scriptedExtractor) Name() string { return "scripted-" + string(s.strategy) }

func (s *scriptedExtractor) Extract(ctx context.Context, _ *types.RawDocument, scratch parser.Scratch) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.useScratch {
		dir, err := scratch.TempDir("cv-test-*")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dir, "page_001.png"), []byte("png"), 0o644); err != nil {
			return "", err
		}
		s.mu.Lock()
		s.dirs = append(s.dirs, dir)
		s.mu.Unlock()
	}
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.text, s.err
}

func (s *scriptedExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedExtractor) Dirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dirs...)
}

// stubChatModel 返回预设补全内容
type stubChatModel struct {
	content string
	err     error
	delay   time.Duration
	calls   atomic.Int32
	lastMsg atomic.Value
}

func (m *stubChatModel) Generate(ctx context.Context, input []*einoschema.Message, _ ...model.Option) (*einoschema.Message, error) {
	m.calls.Add(1)
	if len(input) > 0 {
		m.lastMsg.Store(input[len(input)-1].Content)
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return einoschema.AssistantMessage(m.content, nil), nil
}

func (m *stubChatModel) Stream(context.Context, []*einoschema.Message, ...model.Option) (*einoschema.StreamReader[*einoschema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *stubChatModel) WithTools([]*einoschema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *stubChatModel) UserContent() string {
	v, _ := m.lastMsg.Load().(string)
	return v
}

const sampleCompletion = `{
  "personal": {"firstName": "Jane", "lastName": "Doe", "email": "jane@example.com", "phone": "", "linkedin": ""},
  "professionalSummary": "Backend engineer",
  "keyCompetencies": {"technicalSkills": ["Go", "PostgreSQL"], "softSkills": []},
  "experience": [{"companyName": "Acme", "jobTitle": "Engineer", "startDate": "Jan 2019", "endDate": "Present", "isCurrent": false, "responsibilities": "APIs"}],
  "education": [{"schoolName": "MIT", "major": "CS", "startDate": "2012", "endDate": "2016", "achievements": ""}],
  "certificates": [],
  "languages": [{"name": "English", "proficiency": "Native"}],
  "extracurricular": [],
  "additionalSkills": []
}`

type pipelineFixture struct {
	structural *scriptedExtractor
	pattern    *scriptedExtractor
	ocr        *scriptedExtractor
	model      *stubChatModel
	tempDir    string
	pipeline   *Pipeline
}

type fixtureOption func(*pipelineFixture, *[]parser.CVExtractorOption)

func withCompletionTimeout(d time.Duration) fixtureOption {
	return func(_ *pipelineFixture, opts *[]parser.CVExtractorOption) {
		*opts = append(*opts, parser.WithCompletionTimeout(d))
	}
}

// newPipelineFixture 结构解析、字节扫描和 OCR 都是脚本化的，文字处理文档走真实的 docx 解析
func newPipelineFixture(t *testing.T, options ...fixtureOption) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		structural: &scriptedExtractor{strategy: types.StrategyStructural},
		pattern:    &scriptedExtractor{strategy: types.StrategyPattern},
		ocr:        &scriptedExtractor{strategy: types.StrategyOCR, useScratch: true},
		model:      &stubChatModel{content: sampleCompletion},
		tempDir:    t.TempDir(),
	}

	extractorOpts := []parser.CVExtractorOption{parser.WithCVExtractorLogger(logger.Nop())}
	for _, o := range options {
		o(f, &extractorOpts)
	}

	chain := parser.NewExtractionChain(f.structural, f.pattern,
		parser.WithOCR(f.ocr),
		parser.WithWordExtractor(parser.DocxExtractor{}),
		parser.WithChainLogger(logger.Nop()),
	)
	normalizer := parser.NewNormalizer(parser.WithNormalizerLogger(logger.Nop()))

	p, err := NewPipeline(chain, parser.NewCVExtractor(f.model, extractorOpts...), normalizer,
		WithTempDir(f.tempDir),
		WithLogger(logger.Nop()),
	)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

// tempEntries 返回临时根目录下残留的条目
func (f *pipelineFixture) tempEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// buildDocx 生成只包含 document.xml 的最小 docx，存储不压缩
func buildDocx(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		fmt.Fprintf(&body,
			`<w:p><w:pPr><w:spacing w:after="120"/></w:pPr><w:r><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri"/><w:sz w:val="22"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
			p)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "word/document.xml", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// resumeParagraphs 生成带清晰章节标题的简历段落
func resumeParagraphs(jobs int) []string {
	paras := []string{"Jane Doe", "jane@example.com | +1 555 0100", "Summary",
		"Backend engineer with a decade of experience building reliable distributed systems."}
	paras = append(paras, "Experience")
	for i := 0; i < jobs; i++ {
		paras = append(paras,
			fmt.Sprintf("Senior Engineer, Company %d (20%02d - 20%02d)", i, i%20, i%20+1),
			fmt.Sprintf("Designed and operated services handling %d requests per second with careful attention to latency budgets.", 1000+i),
		)
	}
	paras = append(paras, "Education", "MIT, BSc Computer Science, 2012 - 2016", "Skills", "Go, PostgreSQL, Kubernetes")
	return paras
}
