package parser

// cvInstructions 系统提示词，要求模型输出单个 JSON 对象
const cvInstructions = `You are an expert résumé parser. You will receive the plain text of one résumé.
The text may contain bracketed section markers such as [EXPERIENCE] that were added by a
heuristic pre-pass, and it may contain "[...truncated...]" markers where parts were omitted.

Extract the candidate's profile and answer with exactly ONE JSON object that follows the
structure below. Rules:
- Fill every field. Never omit a required field: use "" for unknown strings, [] for unknown
  lists and false for unknown booleans.
- Keep the original wording of names, titles, companies and institutions. Do not translate.
- Dates: use "MMM YYYY" (e.g. "Jan 2020") when the month is known, otherwise "YYYY". Make a
  reasonable inference for ambiguous dates. For an ongoing position set "isCurrent": true and
  "endDate": null.
- responsibilities, achievements and description are single strings; join bullet points
  with newlines.
- proficiency is one of: native, fluent, advanced, intermediate, basic.
- technicalSkills holds tools, languages and technologies; softSkills holds interpersonal
  skills. additionalSkills holds anything else worth keeping.
- Do not invent facts that are not supported by the text.
- Output only the JSON object: no explanations, no Markdown.`

// cvSchemaTemplate 目标结构说明，同时作为请求的一部分计入字符预算
const cvSchemaTemplate = `{
  "personal": {"firstName": "string", "lastName": "string", "email": "string", "phone": "string", "linkedin": "string"},
  "professionalSummary": "string",
  "keyCompetencies": {"technicalSkills": ["string"], "softSkills": ["string"]},
  "experience": [{"companyName": "string", "jobTitle": "string", "startDate": "string", "endDate": "string|null", "isCurrent": false, "responsibilities": "string"}],
  "education": [{"schoolName": "string", "major": "string", "startDate": "string", "endDate": "string", "achievements": "string"}],
  "certificates": [{"institution": "string", "name": "string", "dateAcquired": "string", "expirationDate": "string|null", "achievements": "string"}],
  "languages": [{"name": "string", "proficiency": "native|fluent|advanced|intermediate|basic"}],
  "extracurricular": [{"organization": "string", "role": "string", "startDate": "string", "endDate": "string|null", "isCurrent": false, "description": "string"}],
  "additionalSkills": ["string"]
}`

// cvJSONSchema 用于结构诊断的 JSON Schema。只检查类型，不限制额外字段
const cvJSONSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "personal": {
      "type": "object",
      "properties": {
        "firstName": {"type": ["string", "null"]},
        "lastName": {"type": ["string", "null"]},
        "email": {"type": ["string", "null"]},
        "phone": {"type": ["string", "number", "null"]},
        "linkedin": {"type": ["string", "null"]}
      }
    },
    "professionalSummary": {"type": ["string", "null"]},
    "keyCompetencies": {
      "type": "object",
      "properties": {
        "technicalSkills": {"type": ["array", "string", "null"]},
        "softSkills": {"type": ["array", "string", "null"]}
      }
    },
    "experience": {"type": "array", "items": {"type": "object"}},
    "education": {"type": "array", "items": {"type": "object"}},
    "certificates": {"type": "array", "items": {"type": "object"}},
    "languages": {"type": "array", "items": {"type": ["object", "string"]}},
    "extracurricular": {"type": "array", "items": {"type": "object"}},
    "additionalSkills": {"type": ["array", "string", "null"]}
  },
  "required": ["personal", "experience", "education"]
}`
