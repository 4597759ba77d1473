package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputsMatchTrimsOnlySurroundingWhitespace(t *testing.T) {
	tests := []struct {
		actual   string
		expected string
		match    bool
	}{
		{"42\n", "42", true},
		{"  hello world \n", "hello world", true},
		{"\t1\n2\n", "1\n2", true},
		{"4 2", "42", false},
		{"1.0", "1", false},
		{"Hello", "hello", false},
		{"", "", true},
	}

	for _, tt := range tests {
		require.Equal(t, tt.match, OutputsMatch(tt.actual, tt.expected), "%q vs %q", tt.actual, tt.expected)
	}
}

func TestRunTestCasesPassedIffTrimmedOutputsEqual(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		// the program echoes its input
		return okResponse(req.Stdin + "\n"), nil
	}}
	client, _ := newTestClient(transport)

	cases := []TestCase{
		{Input: "5", ExpectedOutput: "5"},
		{Input: " 7 ", ExpectedOutput: "7\n"},
		{Input: "a b", ExpectedOutput: "ab"},
		{Input: "x", ExpectedOutput: "y"},
	}

	outcomes := client.RunTestCases(context.Background(), "code", "python", cases)
	require.Len(t, outcomes, len(cases))
	for _, o := range outcomes {
		require.Equal(t, ClassificationOK, o.Classification)
		require.Equal(t, strings.TrimSpace(o.ActualOutput) == strings.TrimSpace(o.TestCase.ExpectedOutput), o.Passed)
	}
	require.Equal(t, []bool{true, true, false, false}, []bool{outcomes[0].Passed, outcomes[1].Passed, outcomes[2].Passed, outcomes[3].Passed})
}

func TestRunTestCasesPreservesDeclaredOrder(t *testing.T) {
	transport := &stubTransport{}
	client, _ := newTestClient(transport)

	cases := []TestCase{{Input: "1"}, {Input: "2"}, {Input: "3"}}
	client.RunTestCases(context.Background(), "code", "python", cases)

	require.Len(t, transport.calls, 3)
	for i, call := range transport.calls {
		require.Equal(t, cases[i].Input, call.Stdin)
	}
}

func TestRunTestCasesRecordsFailuresAsOutcomes(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		switch call {
		case 1:
			return TransportResponse{Run: StageResult{Stdout: "", Stderr: "Traceback: NameError", Code: intPtr(1)}}, nil
		default:
			return TransportResponse{}, errors.New("sandbox rejected request")
		}
	}}
	client, _ := newTestClient(transport)

	outcomes := client.RunTestCases(context.Background(), "code", "python", []TestCase{
		{Input: "", ExpectedOutput: "0"},
		{Input: "", ExpectedOutput: "1"},
	})

	require.Len(t, outcomes, 2)
	require.False(t, outcomes[0].Passed)
	require.Equal(t, ClassificationRuntimeError, outcomes[0].Classification)
	require.Contains(t, outcomes[0].Stderr, "NameError")
	require.NotEmpty(t, outcomes[0].Error)

	require.False(t, outcomes[1].Passed)
	require.Equal(t, ClassificationNetworkError, outcomes[1].Classification)

	summary := Summarize(outcomes)
	require.Equal(t, 0, summary.PassedCount)
	require.Equal(t, 1, summary.RuntimeErrors)
	require.Equal(t, 1, summary.NetworkErrors)
	require.Equal(t, 1, summary.Executed())
}

func TestRunTestCasesPassesMatchingOutputDespiteExitCode(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		return TransportResponse{Run: StageResult{Stdout: "42\n", Stderr: "warning: exit 1", Code: intPtr(1)}}, nil
	}}
	client, _ := newTestClient(transport)

	outcomes := client.RunTestCases(context.Background(), "code", "python", []TestCase{
		{Input: "", ExpectedOutput: "42"},
		{Input: "", ExpectedOutput: "43"},
	})

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.Equal(t, ClassificationRuntimeError, o.Classification)
		require.NotEmpty(t, o.Error)
		require.Equal(t, OutputsMatch(o.ActualOutput, o.TestCase.ExpectedOutput), o.Passed)
	}
	require.True(t, outcomes[0].Passed)
	require.False(t, outcomes[1].Passed)

	summary := Summarize(outcomes)
	require.Equal(t, 1, summary.PassedCount)
	require.Equal(t, 2, summary.RuntimeErrors)
}

func TestRunTestCasesStopsCallingOnCancellation(t *testing.T) {
	transport := &stubTransport{}
	client, _ := newTestClient(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := client.RunTestCases(ctx, "code", "python", []TestCase{{Input: "1"}, {Input: "2"}})
	require.Len(t, outcomes, 2)
	require.Zero(t, transport.executeCalls())
	for _, o := range outcomes {
		require.False(t, o.Passed)
		require.Equal(t, ClassificationNetworkError, o.Classification)
	}
}

func TestCompareBuggyVsFixed(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		if req.Files[0].Content == "buggy" {
			return TransportResponse{Run: StageResult{Stderr: "NameError: name 'total' is not defined", Code: intPtr(1)}}, nil
		}
		return okResponse(req.Stdin), nil
	}}
	client, _ := newTestClient(transport)

	cases := []TestCase{
		{Input: "3", ExpectedOutput: "3"},
		{Input: "4", ExpectedOutput: "4"},
	}

	comparison := client.CompareBuggyVsFixed(context.Background(), "buggy", "fixed", "python", cases)

	require.Equal(t, 0, comparison.Buggy.PassedCount)
	require.Equal(t, 2, comparison.Buggy.RuntimeErrors)
	require.Equal(t, 2, comparison.Fixed.PassedCount)
	require.True(t, comparison.Fixed.AllPassed())
	require.Equal(t, 2, comparison.TestsFixed)
	require.InDelta(t, 100.0, comparison.Improvement, 0.0001)

	require.Len(t, transport.calls, 4)
	require.Equal(t, "buggy", transport.calls[0].Files[0].Content)
	require.Equal(t, "fixed", transport.calls[3].Files[0].Content)
}

func TestCompareBuggyVsFixedFlagsCompileErrors(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		return TransportResponse{
			Compile: &StageResult{Stderr: "syntax error", Code: intPtr(2)},
		}, nil
	}}
	client, _ := newTestClient(transport)

	comparison := client.CompareBuggyVsFixed(context.Background(), "a", "b", "go", []TestCase{{Input: "1", ExpectedOutput: "1"}})
	require.True(t, comparison.Buggy.CompileError)
	require.True(t, comparison.Fixed.CompileError)
	require.Zero(t, comparison.Improvement)
}
