package parser

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"cv-ingest/internal/types"
)

const (
	// maxHeaderLength 标题行去空白后的最大字符数
	maxHeaderLength = 50
	// maxHeaderWords 超过这个词数的行视为正文
	maxHeaderWords = 6
)

// sectionSynonyms 每个章节的标题关键词
var sectionSynonyms = map[types.SectionType][]string{
	types.SectionPersonal: {
		"personal information", "personal details", "personal data", "contact information",
		"contact details", "contact info", "contact",
	},
	types.SectionSummary: {
		"summary", "professional summary", "career summary", "executive summary", "profile",
		"professional profile", "career objective", "objective", "about me", "personal statement",
	},
	types.SectionExperience: {
		"experience", "work experience", "professional experience", "relevant experience",
		"employment", "employment history", "work history", "career history",
	},
	types.SectionEducation: {
		"education", "educational background", "academic background", "academic qualifications",
		"qualifications", "education and training",
	},
	types.SectionSkills: {
		"skills", "key skills", "technical skills", "soft skills", "competencies",
		"core competencies", "key competencies", "expertise", "areas of expertise",
	},
	types.SectionCertificates: {
		"certificates", "certifications", "certification", "licenses", "licenses and certifications",
		"courses", "training",
	},
	types.SectionLanguages: {
		"languages", "language", "language skills",
	},
	types.SectionExtracurricular: {
		"extracurricular", "extracurricular activities", "activities", "volunteer experience",
		"volunteering", "community involvement", "leadership",
	},
	types.SectionAdditional: {
		"additional information", "additional skills", "additional", "interests", "hobbies",
		"awards", "publications", "references", "other",
	},
}

type headerPattern struct {
	section types.SectionType
	synonym string
	re      *regexp.Regexp
}

// headerPatterns 按关键词长度降序，先匹配到的即为最长匹配
var headerPatterns = buildHeaderPatterns()

func buildHeaderPatterns() []headerPattern {
	var patterns []headerPattern
	for section, synonyms := range sectionSynonyms {
		for _, s := range synonyms {
			patterns = append(patterns, headerPattern{
				section: section,
				synonym: s,
				// 关键词前后必须是非字母，允许复数后缀
				re: regexp.MustCompile(`(?:^|[^\p{L}])` + regexp.QuoteMeta(s) + `(?:e?s)?(?:$|[^\p{L}])`),
			})
		}
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if len(patterns[i].synonym) != len(patterns[j].synonym) {
			return len(patterns[i].synonym) > len(patterns[j].synonym)
		}
		return patterns[i].synonym < patterns[j].synonym
	})
	return patterns
}

// Section 一个识别出的章节
type Section struct {
	Type    types.SectionType
	Heading string // 原始标题行，PERSONAL 前导内容为空
	Body    string
}

// Segmentation 分段结果
type Segmentation struct {
	Sections []Section
	// ByType 同类章节按出现顺序拼接
	ByType map[types.SectionType]string
	// Annotated 带 [SECTION] 标注的完整文本；识别到的标题少于两个时等于原文
	Annotated string
	// Headers 识别到的标题数量
	Headers int
}

// DetectHeader 判断一行是否为章节标题
func DetectHeader(line string) (types.SectionType, bool) {
	candidate := strings.ToLower(strings.TrimSpace(line))
	candidate = strings.TrimRight(candidate, ": \t")
	candidate = strings.TrimLeft(candidate, "#*-•> \t")
	if candidate == "" || utf8.RuneCountInString(candidate) > maxHeaderLength {
		return "", false
	}
	if len(strings.Fields(candidate)) > maxHeaderWords || strings.HasSuffix(candidate, ".") {
		return "", false
	}
	for _, p := range headerPatterns {
		if p.re.MatchString(candidate) {
			return p.section, true
		}
	}
	return "", false
}

// SegmentSections 逐行扫描文本并按标题切分章节。不丢弃任何内容：
// 标题行本身保留在标注文本中，第一个标题之前的内容归入 PERSONAL。
func SegmentSections(text string) Segmentation {
	lines := strings.Split(text, "\n")

	var (
		sections []Section
		current  = Section{Type: types.SectionPersonal}
		body     []string
		headers  int
	)
	flush := func() {
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Heading != "" || current.Body != "" {
			sections = append(sections, current)
		}
		body = body[:0]
	}

	for _, line := range lines {
		if section, ok := DetectHeader(line); ok {
			flush()
			headers++
			current = Section{Type: section, Heading: strings.TrimSpace(line)}
			continue
		}
		body = append(body, line)
	}
	flush()

	seg := Segmentation{Headers: headers, Annotated: text}
	if headers < 2 {
		return seg
	}

	seg.Sections = sections
	seg.ByType = make(map[types.SectionType]string, len(sections))
	var b strings.Builder
	for i, s := range sections {
		if prev, ok := seg.ByType[s.Type]; ok && prev != "" {
			seg.ByType[s.Type] = prev + "\n" + s.Body
		} else {
			seg.ByType[s.Type] = s.Body
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(string(s.Type))
		b.WriteString("]\n")
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		b.WriteString(s.Body)
	}
	seg.Annotated = b.String()
	return seg
}
