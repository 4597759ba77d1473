package dto

import (
	"strings"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// QuestionSpecRequest is the payload the question generator uses to register a question.
type QuestionSpecRequest struct {
	ID              string   `json:"id" validate:"required,max=64"`
	Type            string   `json:"type" validate:"required,oneof=debug explain db_schema open qcm"`
	Title           string   `json:"title" validate:"max=255"`
	Language        string   `json:"language" validate:"max=32"`
	Prompt          string   `json:"prompt"`
	BuggyCode       string   `json:"buggy_code"`
	WorkingCode     string   `json:"working_code"`
	Requirements    []string `json:"requirements"`
	ExpectedOutput  string   `json:"expected_output"`
	AnswerKey       []string `json:"answer_key"`
	ReferenceAnswer string   `json:"reference_answer"`

	TestCases []TestCaseRequest `json:"test_cases" validate:"omitempty,max=20,dive"`
}

// TestCaseRequest is a test case supplied together with a question.
type TestCaseRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Description    string `json:"description" validate:"max=500"`
	Difficulty     string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
}

// ToModel converts the request into a persistable spec.
func (r QuestionSpecRequest) ToModel() models.QuestionSpec {
	return models.QuestionSpec{
		ID:              strings.TrimSpace(r.ID),
		Type:            models.QuestionType(r.Type),
		Title:           strings.TrimSpace(r.Title),
		Language:        strings.ToLower(strings.TrimSpace(r.Language)),
		Prompt:          r.Prompt,
		BuggyCode:       r.BuggyCode,
		WorkingCode:     r.WorkingCode,
		Requirements:    datatypes.JSONSlice[string](nonNil(r.Requirements)),
		ExpectedOutput:  r.ExpectedOutput,
		AnswerKey:       datatypes.JSONSlice[string](nonNil(r.AnswerKey)),
		ReferenceAnswer: r.ReferenceAnswer,
		TestCases:       testCaseModels(r.TestCases),
	}
}

func testCaseModels(cases []TestCaseRequest) []models.TestCase {
	if len(cases) == 0 {
		return nil
	}
	items := make([]models.TestCase, 0, len(cases))
	for i, tc := range cases {
		items = append(items, models.TestCase{
			Position:       i,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Description:    tc.Description,
			Difficulty:     tc.Difficulty,
		})
	}
	return items
}

// QuestionSpecResponse mirrors a stored spec.
type QuestionSpecResponse struct {
	ID             string             `json:"id"`
	Type           string             `json:"type"`
	Title          string             `json:"title"`
	Language       string             `json:"language"`
	Requirements   []string           `json:"requirements"`
	ExpectedOutput string             `json:"expected_output,omitempty"`
	TestCases      []TestCaseResponse `json:"test_cases"`
}

// NewQuestionSpecResponse maps a spec model to its DTO.
func NewQuestionSpecResponse(spec models.QuestionSpec) QuestionSpecResponse {
	return QuestionSpecResponse{
		ID:             spec.ID,
		Type:           string(spec.Type),
		Title:          spec.Title,
		Language:       spec.Language,
		Requirements:   nonNil([]string(spec.Requirements)),
		ExpectedOutput: spec.ExpectedOutput,
		TestCases:      NewTestCaseResponses(spec.TestCases),
	}
}

// TestCaseResponse is one stored test case.
type TestCaseResponse struct {
	Position       int    `json:"position"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Description    string `json:"description"`
	Difficulty     string `json:"difficulty"`
}

// NewTestCaseResponses maps test case models in order.
func NewTestCaseResponses(cases []models.TestCase) []TestCaseResponse {
	items := make([]TestCaseResponse, 0, len(cases))
	for _, tc := range cases {
		items = append(items, TestCaseResponse{
			Position:       tc.Position,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Description:    tc.Description,
			Difficulty:     tc.Difficulty,
		})
	}
	return items
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
