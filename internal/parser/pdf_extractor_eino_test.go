package parser

import (
	"context"
	"errors"
	"io"
	"testing"

	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// stubEinoParser 替代真实的 PDF 解析器
type stubEinoParser struct {
	docs    []*schema.Document
	err     error
	gotURI  string
	gotData []byte
}

func (s *stubEinoParser) Parse(_ context.Context, reader io.Reader, opts ...einoParser.Option) ([]*schema.Document, error) {
	s.gotData, _ = io.ReadAll(reader)
	s.gotURI = einoParser.GetCommonOptions(nil, opts...).URI
	return s.docs, s.err
}

func TestEinoPDFExtractorJoinsDocuments(t *testing.T) {
	stub := &stubEinoParser{docs: []*schema.Document{
		{Content: "page one"},
		{Content: ""},
		{Content: "page two"},
	}}
	e, err := NewEinoPDFExtractor(context.Background(), withEinoParser(stub), WithEinoLogger(logger.Nop()))
	require.NoError(t, err)
	assert.Equal(t, types.StrategyStructural, e.Strategy())

	text, err := e.Extract(context.Background(), &types.RawDocument{Data: []byte("%PDF"), Filename: "cv.pdf"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "page one\n\npage two", text)
	assert.Equal(t, "cv.pdf", stub.gotURI)
	assert.Equal(t, []byte("%PDF"), stub.gotData)
}

func TestEinoPDFExtractorErrors(t *testing.T) {
	stub := &stubEinoParser{err: errors.New("malformed PDF")}
	e, err := NewEinoPDFExtractor(context.Background(), withEinoParser(stub), WithEinoLogger(logger.Nop()))
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), &types.RawDocument{Data: []byte("x"), Filename: "a.pdf"}, nil)
	assert.ErrorContains(t, err, "malformed PDF")

	stub.err = nil
	_, err = e.Extract(context.Background(), &types.RawDocument{Data: []byte("x")}, nil)
	assert.ErrorContains(t, err, "no documents")

	_, err = e.Extract(context.Background(), &types.RawDocument{}, nil)
	assert.Error(t, err)
}
