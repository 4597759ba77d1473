package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Classification describes how a sandbox run ended.
type Classification string

const (
	ClassificationOK           Classification = "ok"
	ClassificationCompileError Classification = "compile_error"
	ClassificationRuntimeError Classification = "runtime_error"
	ClassificationTimeout      Classification = "timeout"
	ClassificationNetworkError Classification = "network_error"
)

// ErrUnsupportedLanguage indicates the language has no sandbox mapping.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ValidationError is returned before any network call when a request cannot be executed.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid execution request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransientError marks transport failures that are worth retrying (timeouts, network errors, 5xx).
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("sandbox unavailable (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sandbox unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// File is a single source file shipped to the sandbox.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Runtime is a language/version pair the sandbox can execute.
type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases,omitempty"`
}

// TransportRequest is the wire-level request a Transport sends.
type TransportRequest struct {
	Language       string
	Version        string
	Files          []File
	Stdin          string
	CompileTimeout time.Duration
	RunTimeout     time.Duration
}

// StageResult is the output of one sandbox stage (compile or run).
type StageResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
	Signal string `json:"signal"`
	Status string `json:"status,omitempty"`
}

// ExitCode returns the stage exit code, treating a missing code as failure when a signal is set.
func (s StageResult) ExitCode() int {
	if s.Code != nil {
		return *s.Code
	}
	if s.Signal != "" {
		return 137
	}
	return 0
}

// TransportResponse is the decoded sandbox response.
type TransportResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      StageResult  `json:"run"`
	Compile  *StageResult `json:"compile,omitempty"`
}

// Transport performs a single sandbox call with no retries.
type Transport interface {
	Execute(ctx context.Context, req TransportRequest) (TransportResponse, error)
	Runtimes(ctx context.Context) ([]Runtime, error)
}

// ExecuteRequest is the caller-facing execution request.
type ExecuteRequest struct {
	Code           string
	Language       string
	Stdin          string
	CompileTimeout time.Duration
	RunTimeout     time.Duration
}

// ExecutionResult is the normalised outcome of a sandbox execution.
type ExecutionResult struct {
	Stdout         string         `json:"stdout"`
	Stderr         string         `json:"stderr"`
	ExitCode       int            `json:"exit_code"`
	Success        bool           `json:"success"`
	Classification Classification `json:"classification"`
	Language       string         `json:"language"`
	Version        string         `json:"version"`
	Attempts       int            `json:"attempts"`
	Error          string         `json:"error,omitempty"`
}

// TestCase is one stdin/stdout expectation.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Description    string `json:"description"`
	Difficulty     string `json:"difficulty"`
}

// TestOutcome records the result of running one TestCase.
type TestOutcome struct {
	TestCase       TestCase       `json:"test_case"`
	ActualOutput   string         `json:"actual_output"`
	Passed         bool           `json:"passed"`
	Error          string         `json:"error,omitempty"`
	Stderr         string         `json:"stderr,omitempty"`
	ExitCode       int            `json:"exit_code"`
	Classification Classification `json:"classification"`
}

// RunSummary aggregates the outcomes of one code variant.
type RunSummary struct {
	Outcomes      []TestOutcome `json:"test_results"`
	PassedCount   int           `json:"passed_count"`
	TotalCount    int           `json:"total_count"`
	CompileError  bool          `json:"compilation_error"`
	RuntimeErrors int           `json:"runtime_errors"`
	NetworkErrors int           `json:"network_errors"`
}

// Executed reports how many outcomes carry real execution evidence.
func (s RunSummary) Executed() int {
	return s.TotalCount - s.NetworkErrors
}

// AllPassed reports whether every test case passed.
func (s RunSummary) AllPassed() bool {
	return s.TotalCount > 0 && s.PassedCount == s.TotalCount
}

// Comparison holds before/after evidence for a debug question.
type Comparison struct {
	Buggy       RunSummary `json:"buggy_results"`
	Fixed       RunSummary `json:"fixed_results"`
	Improvement float64    `json:"improvement"`
	TestsFixed  int        `json:"tests_fixed"`
}
