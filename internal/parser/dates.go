package parser

import (
	"regexp"
	"strings"
)

var presentWords = map[string]struct{}{
	"present": {}, "current": {}, "currently": {}, "now": {}, "ongoing": {}, "today": {}, "to date": {},
}

// IsPresentMarker 判断结束日期是否表示“至今”
func IsPresentMarker(s string) bool {
	_, ok := presentWords[strings.ToLower(strings.Trim(strings.TrimSpace(s), ".()"))]
	return ok
}

var (
	// spacedSeparator 两侧有空白的分隔符优先，避免拆开 2019-01 这样的日期
	spacedSeparator = regexp.MustCompile(`(?i)\s+(?:-|–|—|~|to|until|till)\s+`)
	dashSeparator   = regexp.MustCompile(`\s*[–—~]\s*`)
	isoDate         = regexp.MustCompile(`^\d{4}-\d{2}(?:-\d{2})?$`)
)

// SplitPeriod 把 "Jan 2019 - Present" 拆成起止两部分，无法拆分时 start 为整个字符串
func SplitPeriod(period string) (start, end string) {
	period = strings.TrimSpace(period)
	if period == "" || isoDate.MatchString(period) {
		return period, ""
	}
	loc := spacedSeparator.FindStringIndex(period)
	if loc == nil {
		loc = dashSeparator.FindStringIndex(period)
	}
	if loc == nil && strings.Count(period, "-") == 1 {
		i := strings.Index(period, "-")
		loc = []int{i, i + 1}
	}
	if loc == nil {
		return period, ""
	}
	return strings.TrimSpace(period[:loc[0]]), strings.TrimSpace(period[loc[1]:])
}

// dateRange 条目的起止日期解析结果
type dateRange struct {
	Start     string
	End       string
	IsCurrent bool
}

// EndDate 进行中时为 nil，空字符串也归为 nil
func (d dateRange) EndDate() *string {
	if d.IsCurrent || d.End == "" {
		return nil
	}
	end := d.End
	return &end
}

// resolveDateRange 合并显式起止日期、isCurrent 标记与 period 字段
func resolveDateRange(start, end, period string, current bool) dateRange {
	if start == "" && end == "" && period != "" {
		start, end = SplitPeriod(period)
	}
	r := dateRange{Start: start, End: end, IsCurrent: current}
	if IsPresentMarker(end) {
		r.IsCurrent = true
	}
	if r.IsCurrent {
		r.End = ""
	}
	return r
}
