package dto

import "time"

// Report tracks.
const (
	TrackCoding = "coding"
	TrackText   = "text"
	TrackOral   = "oral"
)

// CandidateSubmission is one answered question as captured by the session module.
type CandidateSubmission struct {
	QuestionID      string   `json:"question_id" validate:"required,max=64"`
	ResponseText    string   `json:"response_text"`
	SelectedAnswers []string `json:"selected_answers,omitempty"`
}

// EvaluateInterviewRequest triggers evaluation of one completed coding interview.
type EvaluateInterviewRequest struct {
	CandidateName string                `json:"candidate_name" validate:"required,max=255"`
	InterviewDate string                `json:"interview_date" validate:"required,max=32"`
	Submissions   []CandidateSubmission `json:"submissions" validate:"required,min=1,dive"`
}

// BatchEvaluateRequest evaluates several interviews as independent flows.
type BatchEvaluateRequest struct {
	Interviews []EvaluateInterviewRequest `json:"interviews" validate:"required,min=1,max=50,dive"`
}

// QuestionEvaluation is the graded result of one question.
type QuestionEvaluation struct {
	QuestionID    string                 `json:"question_id"`
	QuestionTitle string                 `json:"question_title"`
	QuestionType  string                 `json:"question_type"`
	Score         float64                `json:"score"`
	Feedback      []string               `json:"feedback"`
	LowConfidence bool                   `json:"low_confidence"`
	Details       map[string]interface{} `json:"details"`
}

// EvaluationReport is the coding-track report read by the presentation layer.
type EvaluationReport struct {
	Key                 string               `json:"report_key"`
	Track               string               `json:"track"`
	CandidateName       string               `json:"candidate_name"`
	InterviewDate       string               `json:"interview_date"`
	OverallScore        float64              `json:"overall_score"`
	OverallFeedback     string               `json:"overall_feedback"`
	Questions           []QuestionEvaluation `json:"questions"`
	LowConfidenceCount  int                  `json:"low_confidence_count"`
	EvaluationTimestamp time.Time            `json:"evaluation_timestamp"`
}

// BatchFailure describes an interview of a batch that could not be reported.
type BatchFailure struct {
	Index         int    `json:"index"`
	CandidateName string `json:"candidate_name"`
	Error         string `json:"error"`
}

// BatchEvaluationResponse collects the outcome of a batch run in request order.
type BatchEvaluationResponse struct {
	Reports  []EvaluationReport `json:"reports"`
	Failures []BatchFailure     `json:"failures"`
}

// EvaluationProgressEvent is published as a question moves through its stages.
type EvaluationProgressEvent struct {
	ID            string    `json:"id"`
	ReportKey     string    `json:"report_key"`
	CandidateName string    `json:"candidate_name"`
	QuestionID    string    `json:"question_id"`
	Position      int       `json:"position"`
	Total         int       `json:"total"`
	Stage         string    `json:"stage"`
	Timestamp     time.Time `json:"timestamp"`
}
