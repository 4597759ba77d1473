package service

import (
	"strings"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

const (
	markerFixedCode         = "FIXED CODE:"
	markerExplanation       = "EXPLANATION:"
	markerSQLSchema         = "SQL SCHEMA:"
	markerDesignExplanation = "DESIGN EXPLANATION:"
	markerExampleQueries    = "EXAMPLE QUERIES:"
)

// ParsedField is one extracted section. Present is false when its marker was
// not found at all, which is different from an empty section.
type ParsedField struct {
	Text    string `json:"text"`
	Present bool   `json:"present"`
}

// Empty reports whether the field carries no usable text.
func (f ParsedField) Empty() bool {
	return strings.TrimSpace(f.Text) == ""
}

// ParsedResponse holds the typed fields extracted from a free-text answer.
// Only the fields relevant to Type are populated.
type ParsedResponse struct {
	Type              models.QuestionType `json:"type"`
	Code              ParsedField         `json:"code"`
	Explanation       ParsedField         `json:"explanation"`
	Analysis          ParsedField         `json:"analysis"`
	SQLSchema         ParsedField         `json:"sql_schema"`
	DesignExplanation ParsedField         `json:"design_explanation"`
	ExampleQueries    ParsedField         `json:"example_queries"`
	Answer            ParsedField         `json:"answer"`
}

// ParseResponse extracts typed fields from raw candidate text. It never fails:
// missing markers produce absent fields.
func ParseResponse(raw string, questionType models.QuestionType) ParsedResponse {
	parsed := ParsedResponse{Type: questionType}

	switch questionType {
	case models.QuestionTypeDebug:
		parsed.Code, parsed.Explanation = parseDebug(raw)
	case models.QuestionTypeExplain:
		parsed.Analysis = ParsedField{Text: strings.TrimSpace(raw), Present: true}
	case models.QuestionTypeDBSchema:
		sections := splitSections(raw, markerSQLSchema, markerDesignExplanation, markerExampleQueries)
		parsed.SQLSchema = stripFences(sections[0])
		parsed.DesignExplanation = sections[1]
		parsed.ExampleQueries = stripFences(sections[2])
	default:
		parsed.Answer = ParsedField{Text: strings.TrimSpace(raw), Present: true}
	}

	return parsed
}

func parseDebug(raw string) (ParsedField, ParsedField) {
	upper := asciiUpper(raw)

	var code, explanation ParsedField

	searchFrom := 0
	if idx := strings.Index(upper, markerFixedCode); idx >= 0 {
		start := idx + len(markerFixedCode)
		end := len(raw)
		if rel := strings.Index(upper[start:], markerExplanation); rel >= 0 {
			end = start + rel
		}
		code = stripFences(ParsedField{Text: strings.TrimSpace(raw[start:end]), Present: true})
		searchFrom = end
	}

	if rel := strings.Index(upper[searchFrom:], markerExplanation); rel >= 0 {
		start := searchFrom + rel + len(markerExplanation)
		explanation = ParsedField{Text: strings.TrimSpace(raw[start:]), Present: true}
	}

	return code, explanation
}

// splitSections returns one field per marker; each section runs until the next
// marker that follows it, in any order.
func splitSections(raw string, markers ...string) []ParsedField {
	upper := asciiUpper(raw)

	positions := make([]int, len(markers))
	for i, marker := range markers {
		positions[i] = strings.Index(upper, marker)
	}

	fields := make([]ParsedField, len(markers))
	for i, marker := range markers {
		if positions[i] < 0 {
			continue
		}
		start := positions[i] + len(marker)
		end := len(raw)
		for j, pos := range positions {
			if j != i && pos >= start && pos < end {
				end = pos
			}
		}
		fields[i] = ParsedField{Text: strings.TrimSpace(raw[start:end]), Present: true}
	}
	return fields
}

// stripFences removes a surrounding markdown code fence (``` or ```lang).
func stripFences(field ParsedField) ParsedField {
	text := strings.TrimSpace(field.Text)
	if !strings.HasPrefix(text, "```") {
		field.Text = text
		return field
	}

	text = strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		text = ""
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	field.Text = strings.TrimSpace(text)
	return field
}

// asciiUpper upper-cases ASCII letters only, keeping byte offsets aligned with s.
func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
