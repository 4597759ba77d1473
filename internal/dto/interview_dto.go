package dto

import "time"

// TextInterviewQuestion is one answered question of a text interview.
type TextInterviewQuestion struct {
	QuestionID      string   `json:"question_id" validate:"required,max=64"`
	Type            string   `json:"type" validate:"required,oneof=qcm open"`
	QuestionText    string   `json:"question_text"`
	Response        string   `json:"response"`
	ReferenceAnswer string   `json:"reference_answer"`
	IsCorrect       *bool    `json:"is_correct,omitempty"`
	SelectedAnswers []string `json:"selected_answers,omitempty"`
	CorrectAnswers  []string `json:"correct_answers,omitempty"`
}

// TextInterviewRequest triggers evaluation of a completed text interview.
type TextInterviewRequest struct {
	CandidateName   string                  `json:"candidate_name" validate:"required,max=255"`
	InterviewDate   string                  `json:"interview_date" validate:"required,max=32"`
	JobTitle        string                  `json:"job_title" validate:"max=255"`
	DifficultyLevel int                     `json:"difficulty_level" validate:"gte=0,lte=10"`
	Questions       []TextInterviewQuestion `json:"questions" validate:"required,min=1,dive"`
}

// QCMDetails summarises the multiple-choice part of an interview.
type QCMDetails struct {
	TotalQuestions int     `json:"total_questions"`
	CorrectAnswers int     `json:"correct_answers"`
	Percentage     float64 `json:"percentage"`
}

// OpenQuestionDetail is the evaluation of one open question.
type OpenQuestionDetail struct {
	QuestionID          string  `json:"question_id"`
	Question            string  `json:"question"`
	Response            string  `json:"response"`
	TechnicalVocabScore float64 `json:"technical_vocab_score"`
	GrammarFlowScore    float64 `json:"grammar_flow_score"`
	Feedback            string  `json:"feedback"`
	LowConfidence       bool    `json:"low_confidence"`
}

// TextEvaluationReport is the persisted text-interview report.
type TextEvaluationReport struct {
	Key                  string               `json:"report_key"`
	Track                string               `json:"track"`
	CandidateName        string               `json:"candidate_name"`
	JobTitle             string               `json:"job_title"`
	DifficultyLevel      int                  `json:"difficulty_level"`
	InterviewDate        string               `json:"interview_date"`
	OverallScore         float64              `json:"overall_score"`
	QCMScore             float64              `json:"qcm_score"`
	TechnicalVocabScore  float64              `json:"technical_vocab_score"`
	GrammarFlowScore     float64              `json:"grammar_flow_score"`
	QCMDetails           QCMDetails           `json:"qcm_details"`
	OpenQuestionFeedback []OpenQuestionDetail `json:"open_question_feedback"`
	EvaluationSummary    string               `json:"evaluation_summary"`
	LowConfidenceCount   int                  `json:"low_confidence_count"`
	EvaluationTimestamp  time.Time            `json:"evaluation_timestamp"`
}

// ConversationTurn is one transcribed utterance of an oral interview.
type ConversationTurn struct {
	Turn      int    `json:"turn"`
	Speaker   string `json:"speaker" validate:"required,oneof=interviewer candidate"`
	Text      string `json:"text"`
	AudioFile string `json:"audio_file,omitempty"`
}

// OralInterviewRequest triggers evaluation of a completed oral interview.
type OralInterviewRequest struct {
	CandidateName   string             `json:"candidate_name" validate:"required,max=255"`
	InterviewDate   string             `json:"interview_date" validate:"required,max=32"`
	DurationMinutes float64            `json:"duration_minutes" validate:"gte=0"`
	DifficultyScore int                `json:"difficulty_score" validate:"gte=0,lte=10"`
	TopicsCovered   []string           `json:"topics_covered"`
	Conversation    []ConversationTurn `json:"conversation" validate:"required,min=1,dive"`
}

// OralQuestionDetail is the evaluation of one question/answer pair.
type OralQuestionDetail struct {
	Turn                int     `json:"turn"`
	Question            string  `json:"question"`
	Response            string  `json:"response"`
	AudioFile           string  `json:"audio_file,omitempty"`
	RelevanceScore      float64 `json:"relevance_score"`
	TechnicalVocabScore float64 `json:"technical_vocab_score"`
	CoherenceScore      float64 `json:"coherence_score"`
	ClarityScore        float64 `json:"clarity_score"`
	WordCount           int     `json:"word_count"`
	SentenceCount       int     `json:"sentence_count"`
	Feedback            string  `json:"feedback"`
	LowConfidence       bool    `json:"low_confidence"`
}

// OralEvaluationReport is the persisted oral-interview report.
type OralEvaluationReport struct {
	Key                 string               `json:"report_key"`
	Track               string               `json:"track"`
	CandidateName       string               `json:"candidate_name"`
	InterviewDate       string               `json:"interview_date"`
	DurationMinutes     float64              `json:"duration_minutes"`
	TotalTurns          int                  `json:"total_turns"`
	DifficultyScore     int                  `json:"difficulty_score"`
	OverallScore        float64              `json:"overall_score"`
	TechnicalVocabScore float64              `json:"technical_vocab_score"`
	CoherenceScore      float64              `json:"coherence_score"`
	RelevanceScore      float64              `json:"relevance_score"`
	ClarityScore        float64              `json:"clarity_score"`
	QuestionEvaluations []OralQuestionDetail `json:"question_evaluations"`
	EvaluationSummary   string               `json:"evaluation_summary"`
	LowConfidenceCount  int                  `json:"low_confidence_count"`
	EvaluationTimestamp time.Time            `json:"evaluation_timestamp"`
}
