package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"cv-ingest/internal/types"
)

// maxDocumentXML word/document.xml 的读取上限
const maxDocumentXML = 32 << 20

// DocxExtractor 直接读取 OOXML 包中的 word/document.xml
type DocxExtractor struct{}

var _ TextExtractor = DocxExtractor{}

func (DocxExtractor) Strategy() types.Strategy { return types.StrategyStructural }

func (DocxExtractor) Name() string { return "docx-native" }

func (DocxExtractor) Extract(ctx context.Context, doc *types.RawDocument, _ Scratch) (string, error) {
	if doc.Size() == 0 {
		return "", errors.New("文档内容为空")
	}
	zr, err := zip.NewReader(bytes.NewReader(doc.Data), int64(doc.Size()))
	if err != nil {
		return "", fmt.Errorf("打开docx失败: %w", err)
	}

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("打开document.xml失败: %w", err)
			}
			break
		}
	}
	if body == nil {
		return "", errors.New("docx中没有word/document.xml")
	}
	defer body.Close()

	return readDocumentXML(ctx, io.LimitReader(body, maxDocumentXML))
}

// readDocumentXML 流式遍历 XML：w:t 为文本，w:p 结束换行，w:tab 和单元格之间用制表符
func readDocumentXML(ctx context.Context, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		b      strings.Builder
		inText bool
		tokens int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析document.xml失败: %w", err)
		}
		if tokens++; tokens%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			case "tc":
				b.WriteByte('\t')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return tidyText(b.String()), nil
}
