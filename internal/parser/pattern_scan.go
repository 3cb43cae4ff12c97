package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/rs/zerolog"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// maxInflatedStream 单个流解压后的上限，防止压缩炸弹
const maxInflatedStream = 16 << 20

// endstream 前的换行可以省略
var streamPattern = regexp.MustCompile(`(?s)stream\r?\n(.*?)(?:\r?\n)?endstream`)

// PatternScanExtractor 直接扫描 PDF 原始字节：解压 FlateDecode 流，
// 收集文本显示操作符（Tj、TJ、'、"）的字符串参数，最后退回到可打印 ASCII 片段
type PatternScanExtractor struct {
	logger zerolog.Logger
}

// PatternScanOption 配置选项
type PatternScanOption func(*PatternScanExtractor)

func WithPatternScanLogger(l zerolog.Logger) PatternScanOption {
	return func(e *PatternScanExtractor) {
		e.logger = l
	}
}

var _ TextExtractor = (*PatternScanExtractor)(nil)

// NewPatternScanExtractor 创建字节扫描提取器
func NewPatternScanExtractor(options ...PatternScanOption) *PatternScanExtractor {
	e := &PatternScanExtractor{logger: logger.Component("pattern_scan")}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *PatternScanExtractor) Strategy() types.Strategy { return types.StrategyPattern }

func (e *PatternScanExtractor) Name() string { return "pattern-scan" }

// Extract 不需要临时文件，scratch 可以为 nil
func (e *PatternScanExtractor) Extract(ctx context.Context, doc *types.RawDocument, _ Scratch) (string, error) {
	if doc.Size() == 0 {
		return "", errors.New("文档内容为空")
	}

	streams := collectStreams(doc.Data)
	e.logger.Debug().Int("streams", len(streams)).Msg("找到内容流")
	if len(streams) == 0 {
		// 没有可识别的流时整体扫描原始字节
		streams = [][]byte{doc.Data}
	}

	var operatorText strings.Builder
	for _, s := range streams {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if t := scanTextOperators(s); t != "" {
			operatorText.WriteString(t)
			operatorText.WriteString("\n")
		}
	}
	text := tidyText(operatorText.String())
	if TextLength(text) >= MinimalTextLength {
		return text, nil
	}

	// 没有可用的文本操作符时退回到可打印片段
	var runs strings.Builder
	for _, s := range streams {
		runs.WriteString(printableRuns(s))
	}
	fallback := tidyText(runs.String())
	if TextLength(fallback) > TextLength(text) {
		e.logger.Debug().Int("length", TextLength(fallback)).Msg("使用可打印字符片段")
		return fallback, nil
	}
	return text, nil
}

// collectStreams 返回所有流的内容，能解压的返回解压结果
func collectStreams(data []byte) [][]byte {
	matches := streamPattern.FindAllSubmatch(data, -1)
	streams := make([][]byte, 0, len(matches))
	for _, m := range matches {
		if inflated := inflate(m[1]); inflated != nil {
			streams = append(streams, inflated)
			continue
		}
		streams = append(streams, m[1])
	}
	return streams
}

func inflate(data []byte) []byte {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxInflatedStream))
	if err != nil && len(out) == 0 {
		return nil
	}
	return out
}

// scanTextOperators 用一个简单的词法扫描器遍历内容流
func scanTextOperators(stream []byte) string {
	var (
		out     strings.Builder
		pending []string // 尚未被操作符消费的字符串操作数
		inArray bool
		array   strings.Builder
	)

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readLiteralString(stream, i)
			i = next
			if inArray {
				array.WriteString(s)
			} else {
				pending = append(pending, s)
			}
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '<':
			s, next := readHexString(stream, i)
			i = next
			if inArray {
				array.WriteString(s)
			} else {
				pending = append(pending, s)
			}
		case c == '[':
			inArray = true
			array.Reset()
			i++
		case c == ']':
			inArray = false
			pending = append(pending, array.String())
			i++
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case inArray && (c == '-' || c == '.' || (c >= '0' && c <= '9')):
			// TJ 数组中的字距调整，较大的负值通常是词间距
			start := i
			for i < len(stream) && (stream[i] == '-' || stream[i] == '.' || (stream[i] >= '0' && stream[i] <= '9')) {
				i++
			}
			if num := string(stream[start:i]); strings.HasPrefix(num, "-") && len(num) >= 4 {
				array.WriteByte(' ')
			}
		case isDelimiterOrSpace(c):
			i++
		default:
			start := i
			for i < len(stream) && !isDelimiterOrSpace(stream[i]) && !strings.ContainsRune("()<>[]%", rune(stream[i])) {
				i++
			}
			if i == start {
				i++
				continue
			}
			switch string(stream[start:i]) {
			case "Tj", "TJ":
				if n := len(pending); n > 0 {
					out.WriteString(pending[n-1])
				}
				pending = pending[:0]
			case "'", `"`:
				out.WriteString("\n")
				if n := len(pending); n > 0 {
					out.WriteString(pending[n-1])
				}
				pending = pending[:0]
			case "Td", "TD":
				out.WriteString(" ")
				pending = pending[:0]
			case "T*", "ET":
				out.WriteString("\n")
				pending = pending[:0]
			default:
				if inArray {
					continue
				}
				// 其他操作符消费掉之前的操作数
				if isOperator(stream[start:i]) {
					pending = pending[:0]
				}
			}
		}
	}
	return out.String()
}

func isDelimiterOrSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '/', '{', '}':
		return true
	}
	return false
}

func isOperator(tok []byte) bool {
	if len(tok) == 0 || len(tok) > 3 {
		return false
	}
	for _, b := range tok {
		if !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b == '*' || b == '\'' || b == '"') {
			return false
		}
	}
	return true
}

// readLiteralString 读取括号字符串，处理嵌套括号和转义，返回解码文本与下一个位置
func readLiteralString(data []byte, start int) (string, int) {
	var (
		buf   []byte
		depth = 1
		i     = start + 1
	)
	for i < len(data) && depth > 0 {
		c := data[i]
		switch c {
		case '\\':
			i++
			if i >= len(data) {
				break
			}
			switch e := data[i]; e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '(', ')', '\\':
				buf = append(buf, e)
			case '\r', '\n':
				// 续行
				if e == '\r' && i+1 < len(data) && data[i+1] == '\n' {
					i++
				}
			default:
				if e >= '0' && e <= '7' {
					v := 0
					j := 0
					for ; j < 3 && i+j < len(data) && data[i+j] >= '0' && data[i+j] <= '7'; j++ {
						v = v*8 + int(data[i+j]-'0')
					}
					buf = append(buf, byte(v))
					i += j - 1
				} else {
					buf = append(buf, e)
				}
			}
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth > 0 {
				buf = append(buf, c)
			}
		default:
			buf = append(buf, c)
		}
		i++
	}
	return decodePDFBytes(buf), i
}

// readHexString 读取 <...> 十六进制字符串
func readHexString(data []byte, start int) (string, int) {
	i := start + 1
	var digits []byte
	for i < len(data) && data[i] != '>' {
		if c := data[i]; isHexDigit(c) {
			digits = append(digits, c)
		}
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	buf := make([]byte, 0, len(digits)/2)
	for j := 0; j+1 < len(digits); j += 2 {
		buf = append(buf, hexValue(digits[j])<<4|hexValue(digits[j+1]))
	}
	return decodePDFBytes(buf), i + 1
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// decodePDFBytes 带 BOM 的按 UTF-16BE 解码，否则按单字节解码，并过滤不可打印字符
func decodePDFBytes(b []byte) string {
	var runes []rune
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		units := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		runes = utf16.Decode(units)
	} else {
		runes = make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
	}

	var out strings.Builder
	for _, r := range runes {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			out.WriteRune(r)
		} else if r == '\r' {
			out.WriteRune('\n')
		}
	}
	return out.String()
}

// printableRuns 收集至少 5 个字符、字母占多数的可打印 ASCII 片段
func printableRuns(data []byte) string {
	var (
		out     strings.Builder
		current []byte
	)
	flush := func() {
		if len(current) >= 5 {
			letters := 0
			for _, c := range current {
				if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
					letters++
				}
			}
			if letters*2 >= len(current) {
				out.Write(current)
				out.WriteByte('\n')
			}
		}
		current = current[:0]
	}
	for _, c := range data {
		if c >= 0x20 && c <= 0x7E {
			current = append(current, c)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}

var (
	multiSpace   = regexp.MustCompile(`[ \t\f\v]+`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// tidyText 合并多余空白，保留段落换行
func tidyText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
