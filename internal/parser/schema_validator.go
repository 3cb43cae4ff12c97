package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator 对补全结果做结构诊断，结果只作为警告
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator 编译内置的简历 JSON Schema
func NewSchemaValidator() (*SchemaValidator, error) {
	return NewSchemaValidatorFrom(cvJSONSchema)
}

// NewSchemaValidatorFrom 编译给定的 schema 文本
func NewSchemaValidatorFrom(schemaText string) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("cv.schema.json", strings.NewReader(schemaText)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("cv.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Diagnose 返回所有不符合 schema 的位置，符合时返回 nil
func (v *SchemaValidator) Diagnose(raw []byte) []string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("unmarshal: %v", err)}
	}
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	collectLeaves(ve, &out)
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, loc+": "+ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}
