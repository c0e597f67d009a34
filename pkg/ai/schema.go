package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const analysisSchemaURL = "mem://edugrade/analysis.schema.json"

const analysisSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["score", "weak_topics", "resources"],
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "weak_topics": {"type": "array", "items": {"type": "string"}},
    "resources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "url", "type"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "url": {"type": "string"},
          "type": {"enum": ["video", "article", "exercise", "tutorial"]}
        }
      }
    },
    "summary": {"type": "string"}
  }
}`

var compiledAnalysisSchema = mustCompileAnalysisSchema()

func mustCompileAnalysisSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(analysisSchemaURL, strings.NewReader(analysisSchema)); err != nil {
		panic(fmt.Sprintf("register analysis schema: %v", err))
	}
	schema, err := compiler.Compile(analysisSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile analysis schema: %v", err))
	}
	return schema
}

// ParseAnalysisResponse decodes and validates a model response. Anything that does not match
// the schema is reported as ErrAnalysisFailed.
func ParseAnalysisResponse(content string) (AnalysisResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var document interface{}
	if err := json.Unmarshal([]byte(content), &document); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: parse analysis json: %v", ErrAnalysisFailed, err)
	}

	if err := compiledAnalysisSchema.Validate(document); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: malformed analysis: %v", ErrAnalysisFailed, err)
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: decode analysis: %v", ErrAnalysisFailed, err)
	}

	if result.WeakTopics == nil {
		result.WeakTopics = []string{}
	}
	if result.Resources == nil {
		result.Resources = []Resource{}
	}

	return result, nil
}
