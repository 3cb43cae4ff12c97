package parser

import (
	"regexp"
	"strings"

	"cv-ingest/internal/types"
)

// proficiencyRule 按顺序匹配，先命中者胜出
type proficiencyRule struct {
	level    types.ProficiencyLevel
	keywords []string
	cefr     *regexp.Regexp
}

var proficiencyRules = []proficiencyRule{
	{
		level:    types.ProficiencyNative,
		keywords: []string{"native", "mother tongue", "mother-tongue", "first language", "bilingual"},
	},
	{
		level:    types.ProficiencyFluent,
		keywords: []string{"fluent", "full professional"},
		cefr:     regexp.MustCompile(`\bc2\b`),
	},
	{
		level:    types.ProficiencyAdvanced,
		keywords: []string{"advanced", "professional working"},
		cefr:     regexp.MustCompile(`\bc1\b`),
	},
	{
		level:    types.ProficiencyIntermediate,
		keywords: []string{"intermediate", "limited working", "conversational"},
		cefr:     regexp.MustCompile(`\bb[12]\b`),
	},
}

// ClassifyProficiency 把自由文本的语言水平映射为五个等级之一，未命中时为 basic
func ClassifyProficiency(description string) types.ProficiencyLevel {
	s := strings.ToLower(strings.TrimSpace(description))
	if s == "" {
		return types.ProficiencyBasic
	}
	for _, rule := range proficiencyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(s, kw) {
				return rule.level
			}
		}
		if rule.cefr != nil && rule.cefr.MatchString(s) {
			return rule.level
		}
	}
	return types.ProficiencyBasic
}
