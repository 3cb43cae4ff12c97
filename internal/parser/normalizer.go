package parser

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// Normalizer 把结构不确定的补全结果映射为 CanonicalCV，任何输入都不会失败
type Normalizer struct {
	newID  func() string
	logger zerolog.Logger
}

// NormalizerOption Normalizer 的配置选项
type NormalizerOption func(*Normalizer)

// WithIDGenerator 替换列表条目 id 的生成方式
func WithIDGenerator(gen func() string) NormalizerOption {
	return func(n *Normalizer) {
		if gen != nil {
			n.newID = gen
		}
	}
}

func WithNormalizerLogger(l zerolog.Logger) NormalizerOption {
	return func(n *Normalizer) {
		n.logger = l
	}
}

func NewNormalizer(options ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		newID:  uuid.NewString,
		logger: logger.Component("normalizer"),
	}
	for _, option := range options {
		option(n)
	}
	return n
}

// Normalize 每个字段按别名表取第一个非空值，否则取默认值
func (n *Normalizer) Normalize(raw *types.RawCompletionResult) *types.CanonicalCV {
	cv := types.NewEmptyCV()
	if raw == nil || !raw.Root.IsObject() {
		n.logger.Warn().Msg("补全结果为空或不是对象，返回空记录")
		return cv
	}
	root := raw.Root

	cv.Personal = n.personal(root)
	cv.ProfessionalSummary = resolveString(root, summaryAliases)
	cv.KeyCompetencies.TechnicalSkills = resolveStringList(root, technicalSkillsAliases)
	cv.KeyCompetencies.SoftSkills = resolveStringList(root, softSkillsAliases)
	cv.AdditionalSkills = resolveStringList(root, additionalSkillsAliases)

	for _, item := range resolveItems(root, experienceListAliases) {
		if e, ok := n.experience(item); ok {
			cv.Experience = append(cv.Experience, e)
		}
	}
	for _, item := range resolveItems(root, educationListAliases) {
		if e, ok := n.education(item); ok {
			cv.Education = append(cv.Education, e)
		}
	}
	for _, item := range resolveItems(root, certificateListAliases) {
		if c, ok := n.certificate(item); ok {
			cv.Certificates = append(cv.Certificates, c)
		}
	}
	cv.Languages = append(cv.Languages, n.languages(root)...)
	for _, item := range resolveItems(root, extracurricularListAliases) {
		if e, ok := n.extracurricular(item); ok {
			cv.Extracurricular = append(cv.Extracurricular, e)
		}
	}

	n.logger.Debug().
		Int("experience", len(cv.Experience)).
		Int("education", len(cv.Education)).
		Int("certificates", len(cv.Certificates)).
		Int("languages", len(cv.Languages)).
		Int("extracurricular", len(cv.Extracurricular)).
		Int("technical_skills", len(cv.KeyCompetencies.TechnicalSkills)).
		Msg("补全结果规范化完成")
	return cv
}

// NormalizeJSON 直接规范化 JSON 文本
func (n *Normalizer) NormalizeJSON(data []byte) *types.CanonicalCV {
	return n.Normalize(&types.RawCompletionResult{Raw: string(data), Root: gjson.ParseBytes(data)})
}

func (n *Normalizer) personal(root gjson.Result) types.PersonalInfo {
	p := types.PersonalInfo{
		FirstName: resolveString(root, firstNameAliases),
		LastName:  resolveString(root, lastNameAliases),
		Email:     resolveString(root, emailAliases),
		Phone:     resolveString(root, phoneAliases),
		LinkedIn:  resolveString(root, linkedinAliases),
	}
	if p.FirstName == "" && p.LastName == "" {
		if full := strings.Fields(resolveString(root, fullNameAliases)); len(full) > 0 {
			p.FirstName = full[0]
			p.LastName = strings.Join(full[1:], " ")
		}
	}
	return p
}

func (n *Normalizer) experience(item gjson.Result) (types.Experience, bool) {
	if item.Type == gjson.String {
		text := strings.TrimSpace(item.Str)
		return types.Experience{ID: n.newID(), Responsibilities: text}, text != ""
	}
	a := experienceAliases
	dates := resolveDateRange(
		resolveString(item, a["startDate"]),
		resolveString(item, a["endDate"]),
		resolveString(item, a["period"]),
		resolveBool(item, a["isCurrent"]),
	)
	e := types.Experience{
		ID:               n.newID(),
		CompanyName:      resolveString(item, a["companyName"]),
		JobTitle:         resolveString(item, a["jobTitle"]),
		StartDate:        dates.Start,
		EndDate:          dates.EndDate(),
		IsCurrent:        dates.IsCurrent,
		Responsibilities: resolveString(item, a["responsibilities"]),
	}
	return e, e.IsCurrent || anyNonEmpty(e.CompanyName, e.JobTitle, e.Responsibilities, e.StartDate, deref(e.EndDate))
}

func (n *Normalizer) education(item gjson.Result) (types.Education, bool) {
	if item.Type == gjson.String {
		text := strings.TrimSpace(item.Str)
		return types.Education{ID: n.newID(), SchoolName: text}, text != ""
	}
	a := educationAliases
	start := resolveString(item, a["startDate"])
	end := resolveString(item, a["endDate"])
	if start == "" && end == "" {
		start, end = SplitPeriod(resolveString(item, a["period"]))
	}
	e := types.Education{
		ID:           n.newID(),
		SchoolName:   resolveString(item, a["schoolName"]),
		Major:        resolveString(item, a["major"]),
		StartDate:    start,
		EndDate:      end,
		Achievements: resolveString(item, a["achievements"]),
	}
	return e, anyNonEmpty(e.SchoolName, e.Major, e.Achievements, e.StartDate, e.EndDate)
}

func (n *Normalizer) certificate(item gjson.Result) (types.Certificate, bool) {
	if item.Type == gjson.String {
		text := strings.TrimSpace(item.Str)
		return types.Certificate{ID: n.newID(), Name: text}, text != ""
	}
	a := certificateAliases
	c := types.Certificate{
		ID:           n.newID(),
		Institution:  resolveString(item, a["institution"]),
		Name:         resolveString(item, a["name"]),
		DateAcquired: resolveString(item, a["dateAcquired"]),
		Achievements: resolveString(item, a["achievements"]),
	}
	if exp := resolveString(item, a["expirationDate"]); exp != "" && !isNoExpiry(exp) {
		c.ExpirationDate = &exp
	}
	return c, anyNonEmpty(c.Name, c.Institution, c.Achievements, c.DateAcquired, deref(c.ExpirationDate))
}

func (n *Normalizer) extracurricular(item gjson.Result) (types.Extracurricular, bool) {
	if item.Type == gjson.String {
		text := strings.TrimSpace(item.Str)
		return types.Extracurricular{ID: n.newID(), Description: text}, text != ""
	}
	a := extracurricularAliases
	dates := resolveDateRange(
		resolveString(item, a["startDate"]),
		resolveString(item, a["endDate"]),
		resolveString(item, a["period"]),
		resolveBool(item, a["isCurrent"]),
	)
	e := types.Extracurricular{
		ID:           n.newID(),
		Organization: resolveString(item, a["organization"]),
		Role:         resolveString(item, a["role"]),
		StartDate:    dates.Start,
		EndDate:      dates.EndDate(),
		IsCurrent:    dates.IsCurrent,
		Description:  resolveString(item, a["description"]),
	}
	return e, e.IsCurrent || anyNonEmpty(e.Organization, e.Role, e.Description, e.StartDate, deref(e.EndDate))
}

// languages 支持对象数组、字符串数组（"English (Native)"）以及 {"English": "Native"} 形式
func (n *Normalizer) languages(root gjson.Result) []types.Language {
	var out []types.Language
	add := func(name, level string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		out = append(out, types.Language{ID: n.newID(), Name: name, Proficiency: ClassifyProficiency(level)})
	}

	for _, path := range languageListAliases {
		v := root.Get(path)
		switch {
		case v.IsArray() && len(v.Array()) > 0:
			for _, item := range v.Array() {
				if item.Type == gjson.String {
					add(splitLanguageString(item.Str))
					continue
				}
				add(resolveString(item, languageAliases["name"]), resolveString(item, languageAliases["proficiency"]))
			}
			return out
		case v.IsObject():
			// 单个对象条目或 语言 -> 水平 映射
			if name := resolveString(v, languageAliases["name"]); name != "" {
				add(name, resolveString(v, languageAliases["proficiency"]))
				return out
			}
			v.ForEach(func(key, value gjson.Result) bool {
				add(key.String(), value.String())
				return true
			})
			if len(out) > 0 {
				return out
			}
		case v.Type == gjson.String && strings.TrimSpace(v.Str) != "":
			for _, part := range splitList(v.Str) {
				add(splitLanguageString(part))
			}
			return out
		}
	}
	return out
}

var languageWithLevel = regexp.MustCompile(`^([^(:\-–—]+?)\s*(?:\((.*?)\)|[:\-–—]\s*(.*))$`)

// splitLanguageString "English (Native)" -> ("English", "Native")
func splitLanguageString(s string) (string, string) {
	s = strings.TrimSpace(s)
	m := languageWithLevel.FindStringSubmatch(s)
	if m == nil {
		return s, ""
	}
	level := m[2]
	if level == "" {
		level = m[3]
	}
	return m[1], strings.TrimSpace(level)
}

func isNoExpiry(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n/a", "na", "never", "no expiration", "does not expire", "lifetime", "null":
		return true
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// anyNonEmpty 条目只要有一个字段有值就保留
func anyNonEmpty(values ...string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}

// resolveString 取第一个非空的标量值；数字保留原文，字符串数组按行拼接
func resolveString(node gjson.Result, paths []string) string {
	for _, p := range paths {
		if s := scalarText(node.Get(p)); s != "" {
			return s
		}
	}
	return ""
}

func scalarText(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	case gjson.JSON:
		if !v.IsArray() {
			return ""
		}
		var parts []string
		for _, item := range v.Array() {
			if s := scalarText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// resolveBool 取第一个存在的布尔值，字符串 "yes"/"true" 也视为真
func resolveBool(node gjson.Result, paths []string) bool {
	for _, p := range paths {
		v := node.Get(p)
		switch v.Type {
		case gjson.True:
			return true
		case gjson.False:
			return false
		case gjson.Number:
			return v.Num != 0
		case gjson.String:
			switch strings.ToLower(strings.TrimSpace(v.Str)) {
			case "true", "yes", "y", "1":
				return true
			case "false", "no", "n", "0":
				return false
			}
		}
	}
	return false
}

// resolveStringList 数组逐项取文本，字符串按逗号等分隔符拆分
func resolveStringList(node gjson.Result, paths []string) []string {
	for _, p := range paths {
		v := node.Get(p)
		var out []string
		switch {
		case v.IsArray():
			for _, item := range v.Array() {
				switch {
				case item.IsObject():
					if s := resolveString(item, []string{"name", "skill", "title", "value"}); s != "" {
						out = append(out, s)
					}
				case item.Type == gjson.String:
					if s := strings.TrimSpace(item.Str); s != "" {
						out = append(out, s)
					}
				case item.Type == gjson.Number:
					out = append(out, item.Raw)
				}
			}
		case v.Type == gjson.String:
			out = splitList(v.Str)
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{}
}

var listSeparator = regexp.MustCompile(`[,;\n|•]+`)

func splitList(s string) []string {
	var out []string
	for _, part := range listSeparator.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveItems 取第一个非空数组；单个对象视为只有一个条目
func resolveItems(node gjson.Result, paths []string) []gjson.Result {
	for _, p := range paths {
		v := node.Get(p)
		if v.IsArray() {
			if items := v.Array(); len(items) > 0 {
				return items
			}
			continue
		}
		if v.IsObject() {
			return []gjson.Result{v}
		}
	}
	return nil
}
