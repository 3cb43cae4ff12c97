package parser

import (
	"unicode/utf8"
)

// TruncationMarker 标记被省略的片段，窗口化后的文本中恰好出现两次
const TruncationMarker = "\n[...truncated...]\n"

// 窗口各段占比（百分比），作用于扣除两个标记后的剩余预算
const (
	headShare = 40
	tailShare = 20

	// minEdge 首尾至少保留的字符数
	minEdge = 50
)

// WindowText 把文本限制在 limit 个字符以内，保留开头、中间和结尾三段。
// 长度不超过 limit 时原样返回；第二个返回值表示是否发生了截断。
//
// 中间段的起点取 (len - middle) / 2，再夹在开头段与结尾段之间。这只是经验取值，
// 不保证一定覆盖工作经历。
func WindowText(text string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}

	runes := []rune(text)
	n := len(runes)
	markerLen := utf8.RuneCountInString(TruncationMarker)
	avail := limit - 2*markerLen
	if avail <= 0 {
		// 预算连两个标记都放不下，只能截取开头
		return string(runes[:limit]), true
	}

	head := avail * headShare / 100
	tail := avail * tailShare / 100
	edge := minEdge
	if edge > avail/2 {
		edge = avail / 2
	}
	if head < edge {
		head = edge
	}
	if tail < edge {
		tail = edge
	}
	middle := avail - head - tail
	if middle < 0 {
		middle = 0
	}

	start := (n - middle) / 2
	if start < head {
		start = head
	}
	if start+middle > n-tail {
		start = n - tail - middle
	}

	out := make([]rune, 0, limit)
	out = append(out, runes[:head]...)
	out = append(out, []rune(TruncationMarker)...)
	out = append(out, runes[start:start+middle]...)
	out = append(out, []rune(TruncationMarker)...)
	out = append(out, runes[n-tail:]...)
	return string(out), true
}
