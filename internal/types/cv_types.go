package types

// ProficiencyLevel 语言熟练度等级，只允许五个枚举值
type ProficiencyLevel string

const (
	ProficiencyNative       ProficiencyLevel = "native"
	ProficiencyFluent       ProficiencyLevel = "fluent"
	ProficiencyAdvanced     ProficiencyLevel = "advanced"
	ProficiencyIntermediate ProficiencyLevel = "intermediate"
	ProficiencyBasic        ProficiencyLevel = "basic"
)

// Valid 判断是否为五个合法等级之一
func (p ProficiencyLevel) Valid() bool {
	switch p {
	case ProficiencyNative, ProficiencyFluent, ProficiencyAdvanced, ProficiencyIntermediate, ProficiencyBasic:
		return true
	}
	return false
}

// CanonicalCV 规范化后的简历记录，由 Normalizer 每次运行构造一次，之后只读
type CanonicalCV struct {
	Personal            PersonalInfo      `json:"personal"`
	ProfessionalSummary string            `json:"professionalSummary"`
	KeyCompetencies     KeyCompetencies   `json:"keyCompetencies"`
	Experience          []Experience      `json:"experience"`
	Education           []Education       `json:"education"`
	Certificates        []Certificate     `json:"certificates"`
	Languages           []Language        `json:"languages"`
	Extracurricular     []Extracurricular `json:"extracurricular"`
	AdditionalSkills    []string          `json:"additionalSkills"`
}

// PersonalInfo 联系方式，字段全部必填，允许为空字符串
type PersonalInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	LinkedIn  string `json:"linkedin"`
}

// KeyCompetencies 技能列表，保持原始顺序
type KeyCompetencies struct {
	TechnicalSkills []string `json:"technicalSkills"`
	SoftSkills      []string `json:"softSkills"`
}

// Experience 工作经历
type Experience struct {
	ID               string  `json:"id"`
	CompanyName      string  `json:"companyName"`
	JobTitle         string  `json:"jobTitle"`
	StartDate        string  `json:"startDate"`
	EndDate          *string `json:"endDate"`
	IsCurrent        bool    `json:"isCurrent"`
	Responsibilities string  `json:"responsibilities"`
}

// Education 教育经历
type Education struct {
	ID           string `json:"id"`
	SchoolName   string `json:"schoolName"`
	Major        string `json:"major"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	Achievements string `json:"achievements"`
}

// Certificate 证书
type Certificate struct {
	ID             string  `json:"id"`
	Institution    string  `json:"institution"`
	Name           string  `json:"name"`
	DateAcquired   string  `json:"dateAcquired"`
	ExpirationDate *string `json:"expirationDate"`
	Achievements   string  `json:"achievements"`
}

// Language 语言能力
type Language struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Proficiency ProficiencyLevel `json:"proficiency"`
}

// Extracurricular 课外活动 / 志愿经历
type Extracurricular struct {
	ID           string  `json:"id"`
	Organization string  `json:"organization"`
	Role         string  `json:"role"`
	StartDate    string  `json:"startDate"`
	EndDate      *string `json:"endDate"`
	IsCurrent    bool    `json:"isCurrent"`
	Description  string  `json:"description"`
}

// NewEmptyCV 返回所有列表都已初始化的空记录，保证 JSON 中不出现 null 列表
func NewEmptyCV() *CanonicalCV {
	return &CanonicalCV{
		KeyCompetencies: KeyCompetencies{
			TechnicalSkills: []string{},
			SoftSkills:      []string{},
		},
		Experience:       []Experience{},
		Education:        []Education{},
		Certificates:     []Certificate{},
		Languages:        []Language{},
		Extracurricular:  []Extracurricular{},
		AdditionalSkills: []string{},
	}
}
