package parser

// 每个规范字段对应一组按优先级排列的来源路径（gjson 语法），取第一个非空值

var (
	firstNameAliases = []string{
		"personal.firstName", "personal.first_name", "personal.givenName", "personal.given_name",
		"personalInfo.firstName", "personal_info.first_name", "contact.firstName", "firstName", "first_name",
	}
	lastNameAliases = []string{
		"personal.lastName", "personal.last_name", "personal.familyName", "personal.family_name", "personal.surname",
		"personalInfo.lastName", "personal_info.last_name", "contact.lastName", "lastName", "last_name", "surname",
	}
	// fullNameAliases 名和姓都缺失时再拆分全名
	fullNameAliases = []string{
		"personal.fullName", "personal.full_name", "personal.name", "personalInfo.name", "personal_info.name",
		"fullName", "full_name", "name",
	}
	emailAliases = []string{
		"personal.email", "personal.emailAddress", "personal.email_address", "personal.mail",
		"personalInfo.email", "personal_info.email", "contact.email", "email",
	}
	phoneAliases = []string{
		"personal.phone", "personal.phoneNumber", "personal.phone_number", "personal.mobile", "personal.telephone",
		"personalInfo.phone", "personal_info.phone", "contact.phone", "phone", "phoneNumber",
	}
	linkedinAliases = []string{
		"personal.linkedin", "personal.linkedIn", "personal.linkedinUrl", "personal.linkedin_url", "personal.linkedInUrl",
		"personalInfo.linkedin", "personal_info.linkedin", "contact.linkedin", "linkedin", "linkedIn",
	}

	summaryAliases = []string{
		"professionalSummary", "professional_summary", "summary.summary", "summary",
		"professional.summary", "profile.summary", "profile", "about", "objective", "careerObjective",
	}

	technicalSkillsAliases = []string{
		"keyCompetencies.technicalSkills", "keyCompetencies.technical_skills",
		"key_competencies.technicalSkills", "key_competencies.technical_skills",
		"skills.technicalSkills", "skills.technical", "skills.hardSkills",
		"technicalSkills", "technical_skills", "hardSkills",
	}
	softSkillsAliases = []string{
		"keyCompetencies.softSkills", "keyCompetencies.soft_skills",
		"key_competencies.softSkills", "key_competencies.soft_skills",
		"skills.softSkills", "skills.soft", "softSkills", "soft_skills",
	}
	additionalSkillsAliases = []string{
		"additionalSkills", "additional_skills", "additional.skills", "additional.additionalSkills",
		"otherSkills", "other_skills", "skills.other", "skills.additional",
	}

	experienceListAliases = []string{
		"experience", "experiences", "workExperience", "work_experience", "professionalExperience",
		"employmentHistory", "employment_history", "employment", "workHistory", "work_history", "jobs",
	}
	educationListAliases = []string{
		"education", "educations", "educationHistory", "education_history", "academicBackground", "academics",
	}
	certificateListAliases = []string{
		"certificates", "certifications", "certificate", "certification", "licenses", "licensesAndCertifications",
	}
	languageListAliases = []string{
		"languages", "language", "languageSkills", "language_skills", "spokenLanguages",
	}
	extracurricularListAliases = []string{
		"extracurricular", "extracurriculars", "extracurricularActivities", "extracurricular_activities",
		"activities", "volunteering", "volunteer", "volunteerExperience", "volunteer_experience",
	}
)

// 列表条目内的字段，路径相对于条目本身
var (
	experienceAliases = itemAliases{
		"companyName":      {"companyName", "company_name", "company", "employer", "organization", "organisation"},
		"jobTitle":         {"jobTitle", "job_title", "title", "position", "role", "designation"},
		"startDate":        {"startDate", "start_date", "from", "start", "dateFrom"},
		"endDate":          {"endDate", "end_date", "to", "end", "dateTo"},
		"isCurrent":        {"isCurrent", "is_current", "current", "currentlyWorking", "ongoing"},
		"period":           {"period", "dates", "duration", "dateRange", "date_range", "date"},
		"responsibilities": {"responsibilities", "description", "duties", "achievements", "highlights", "tasks", "summary", "details"},
	}
	educationAliases = itemAliases{
		"schoolName":   {"schoolName", "school_name", "school", "institution", "university", "college", "institute"},
		"major":        {"major", "degree", "fieldOfStudy", "field_of_study", "field", "program", "qualification"},
		"startDate":    {"startDate", "start_date", "from", "start"},
		"endDate":      {"endDate", "end_date", "to", "end", "graduationDate", "graduation_date", "graduationYear", "year"},
		"period":       {"period", "dates", "duration", "dateRange", "date_range"},
		"achievements": {"achievements", "description", "honors", "honours", "details", "gpa", "notes"},
	}
	certificateAliases = itemAliases{
		"institution":    {"institution", "issuer", "issuingOrganization", "issuing_organization", "organization", "authority", "provider"},
		"name":           {"name", "title", "certificate", "certification", "certificateName", "certificate_name"},
		"dateAcquired":   {"dateAcquired", "date_acquired", "issueDate", "issue_date", "dateIssued", "date", "year", "obtained"},
		"expirationDate": {"expirationDate", "expiration_date", "expiryDate", "expiry_date", "expires", "validUntil", "valid_until"},
		"achievements":   {"achievements", "description", "details", "credentialId", "credential_id", "notes"},
	}
	languageAliases = itemAliases{
		"name":        {"name", "language", "lang", "languageName", "language_name"},
		"proficiency": {"proficiency", "level", "fluency", "proficiencyLevel", "proficiency_level", "skillLevel"},
	}
	extracurricularAliases = itemAliases{
		"organization": {"organization", "organisation", "organizationName", "organization_name", "club", "institution", "company"},
		"role":         {"role", "position", "title", "jobTitle"},
		"startDate":    {"startDate", "start_date", "from", "start"},
		"endDate":      {"endDate", "end_date", "to", "end"},
		"isCurrent":    {"isCurrent", "is_current", "current", "ongoing"},
		"period":       {"period", "dates", "duration", "dateRange", "date_range", "date"},
		"description":  {"description", "details", "responsibilities", "activities", "achievements", "summary"},
	}
)

// itemAliases 条目字段 -> 来源路径
type itemAliases map[string][]string
