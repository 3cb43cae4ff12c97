package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

func deflate(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// fakePDF 用给定内容流拼出一个最小的 PDF 字节序列
func fakePDF(streams ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	for i, s := range streams {
		fmt.Fprintf(&b, "%d 0 obj\n<< /Length %d /Filter /FlateDecode >>\nstream\n", i+4, len(s))
		b.Write(s)
		b.WriteString("\nendstream\nendobj\n")
	}
	b.WriteString("trailer\n<< /Root 1 0 R >>\n%%EOF\n")
	return b.Bytes()
}

func TestScanTextOperators(t *testing.T) {
	cases := []struct{ stream, want string }{
		{"BT /F1 12 Tf 72 712 Td (Hello World) Tj ET", "Hello World"},
		{"BT [(Hel) -20 (lo) -300 (World)] TJ ET", "Hello World"},
		{"BT <FEFF00480069> Tj ET", "Hi"},
		{`BT (caf\351 \(nested\)) Tj ET`, "café (nested)"},
		{"BT (line one) Tj T* (line two) ' ET", "line one\n\nline two"},
		{"BT (ignored) 0 0 Td /F1 10 Tf (kept (deep) text) Tj ET", "kept (deep) text"},
	}
	for _, c := range cases {
		got := tidyText(scanTextOperators([]byte(c.stream)))
		assert.Equal(t, c.want, got, c.stream)
	}
}

func TestPatternScanExtractorInflatesStreams(t *testing.T) {
	line := "(Senior Software Engineer at Example Corp, 2019 to present) Tj T*\n"
	content := "BT /F1 11 Tf 72 700 Td\n" + strings.Repeat(line, 10) + "ET"
	doc := &types.RawDocument{Data: fakePDF(deflate(t, content)), MIMEType: MIMETypePDF}

	e := NewPatternScanExtractor(WithPatternScanLogger(logger.Nop()))
	assert.Equal(t, types.StrategyPattern, e.Strategy())

	text, err := e.Extract(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(text, "Senior Software Engineer at Example Corp"))
	assert.GreaterOrEqual(t, TextLength(text), MinimalTextLength)
}

func TestPatternScanExtractorPrintableFallback(t *testing.T) {
	// 流中没有文本操作符，只有可读片段
	raw := []byte(strings.Repeat("Curriculum vitae of a data scientist\x00\x01\x02", 5))
	doc := &types.RawDocument{Data: fakePDF(raw), MIMEType: MIMETypePDF}

	text, err := NewPatternScanExtractor(WithPatternScanLogger(logger.Nop())).Extract(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "Curriculum vitae of a data scientist")
}

func TestPatternScanExtractorStreamWithoutTrailingEOL(t *testing.T) {
	line := "(Lead Platform Engineer, Northwind Traders, 2016 to 2021) Tj T*\n"
	content := "BT /F1 11 Tf 72 700 Td\n" + strings.Repeat(line, 6) + "ET"
	data := []byte("%PDF-1.4\n4 0 obj\n<< /Length 400 >>\nstream\n" + content + "endstream\nendobj\n%%EOF\n")
	doc := &types.RawDocument{Data: data, MIMEType: MIMETypePDF}

	text, err := NewPatternScanExtractor(WithPatternScanLogger(logger.Nop())).Extract(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(text, "Lead Platform Engineer, Northwind Traders"))
	assert.GreaterOrEqual(t, TextLength(text), MinimalTextLength)
}

func TestPatternScanExtractorScansRawBufferWithoutStreams(t *testing.T) {
	line := "(Data analyst with strong SQL and reporting background) Tj T*\n"
	data := []byte("%PDF-1.4\nBT /F1 11 Tf\n" + strings.Repeat(line, 6) + "ET\n%%EOF\n")
	doc := &types.RawDocument{Data: data, MIMEType: MIMETypePDF}

	text, err := NewPatternScanExtractor(WithPatternScanLogger(logger.Nop())).Extract(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(text, "Data analyst with strong SQL and reporting background"))
}

func TestPatternScanExtractorEmptyDocument(t *testing.T) {
	_, err := NewPatternScanExtractor().Extract(context.Background(), &types.RawDocument{}, nil)
	assert.Error(t, err)
}

func TestPatternScanExtractorImageOnly(t *testing.T) {
	binary := make([]byte, 4096)
	for i := range binary {
		binary[i] = byte(i*7%31) + 0x80
	}
	doc := &types.RawDocument{Data: fakePDF(binary), MIMEType: MIMETypePDF}
	text, err := NewPatternScanExtractor(WithPatternScanLogger(logger.Nop())).Extract(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Less(t, TextLength(text), MinimalTextLength)
}
