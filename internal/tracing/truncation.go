package tracing

import (
	"strings"
)

const (
	// DefaultMaxLength 默认最大属性长度
	DefaultMaxLength = 200

	// MaxSQLLength SQL语句最大长度
	MaxSQLLength = 500

	// MaxRedisLength Redis键最大长度
	MaxRedisLength = 100

	// MaxDocumentLength 文档文本片段最大长度
	MaxDocumentLength = 120

	// MaxFilenameLength 文件名最大长度
	MaxFilenameLength = 80
)

// piiKeywords 属性名包含这些关键字时对值做掩码
var piiKeywords = []string{
	"email", "phone", "password", "linkedin", "address",
	"name", "secret", "token", "api_key",
	"姓名", "地址", "电话",
}

// SafeAttributeValue 对敏感属性掩码，对过长的值截断
func SafeAttributeValue(name string, value string, maxLength int) string {
	lowerName := strings.ToLower(name)
	for _, keyword := range piiKeywords {
		if strings.Contains(lowerName, keyword) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 保留首尾字符，中间用 * 替换
func MaskPII(value string) string {
	if value == "" {
		return ""
	}

	runes := []rune(value)
	n := len(runes)
	switch {
	case n <= 1:
		return "*"
	case n == 2:
		return string(runes[:1]) + "*"
	case n <= 4:
		return string(runes[:1]) + strings.Repeat("*", n-2) + string(runes[n-1:])
	}
	// "jane.doe@example.com" -> "ja****************om"
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// TruncateString 保留前后两段，中间用...连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

func SafeSQL(sql string) string {
	return TruncateString(sql, MaxSQLLength)
}

func SafeRedisKey(key string) string {
	return TruncateString(key, MaxRedisLength)
}

// SafeDocumentText 简历文本只保留首尾的短片段
func SafeDocumentText(content string) string {
	return TruncateString(content, MaxDocumentLength)
}

func SafeFilename(name string) string {
	return TruncateString(name, MaxFilenameLength)
}
