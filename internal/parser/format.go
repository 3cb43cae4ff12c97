package parser

import (
	"mime"
	"strings"

	"cv-ingest/internal/types"
)

// 接受的三种 MIME 类型
const (
	MIMETypePDF  = "application/pdf"
	MIMETypeDoc  = "application/msword"
	MIMETypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// NormalizeMIME 去掉参数部分并转小写，"Application/PDF; charset=binary" -> "application/pdf"
func NormalizeMIME(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		return mediaType
	}
	if idx := strings.IndexByte(declared, ';'); idx >= 0 {
		declared = declared[:idx]
	}
	return strings.ToLower(strings.TrimSpace(declared))
}

// ClassifyFormat 根据声明的 MIME 类型决定使用哪条提取链
func ClassifyFormat(declared string) types.DocumentKind {
	switch NormalizeMIME(declared) {
	case MIMETypePDF:
		return types.KindPDF
	case MIMETypeDoc, MIMETypeDocx:
		return types.KindWordProcessor
	default:
		return types.KindUnsupported
	}
}

// IsLegacyWord 旧版二进制 .doc
func IsLegacyWord(declared string) bool {
	return NormalizeMIME(declared) == MIMETypeDoc
}

// MIMEFromFilename 根据扩展名推断 MIME 类型，CLI 和上传接口在客户端未声明类型时使用
func MIMEFromFilename(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return MIMETypePDF
	case strings.HasSuffix(lower, ".docx"):
		return MIMETypeDocx
	case strings.HasSuffix(lower, ".doc"):
		return MIMETypeDoc
	}
	if idx := strings.LastIndexByte(lower, '.'); idx >= 0 {
		if t := mime.TypeByExtension(lower[idx:]); t != "" {
			return NormalizeMIME(t)
		}
	}
	return "application/octet-stream"
}
