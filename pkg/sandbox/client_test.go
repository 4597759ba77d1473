package sandbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	mu            sync.Mutex
	calls         []TransportRequest
	callTimes     []time.Time
	runtimesCalls int
	runtimes      []Runtime
	runtimesErr   error
	handler       func(req TransportRequest, call int) (TransportResponse, error)
}

func (s *stubTransport) Execute(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.callTimes = append(s.callTimes, time.Now())
	call := len(s.calls)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return okResponse(req.Stdin), nil
	}
	return handler(req, call)
}

func (s *stubTransport) Runtimes(ctx context.Context) ([]Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimesCalls++
	s.callTimes = append(s.callTimes, time.Now())
	return s.runtimes, s.runtimesErr
}

func (s *stubTransport) executeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func intPtr(v int) *int {
	return &v
}

func okResponse(stdout string) TransportResponse {
	return TransportResponse{Run: StageResult{Stdout: stdout, Code: intPtr(0)}}
}

func newTestClient(transport Transport) (*Client, *[]time.Duration) {
	client := NewClient(transport, NopGate{}, ClientConfig{})
	var sleeps []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return client, &sleeps
}

func TestExecuteUnknownLanguageMakesNoCall(t *testing.T) {
	transport := &stubTransport{}
	client, _ := newTestClient(transport)

	_, err := client.Execute(context.Background(), ExecuteRequest{Code: "print(1)", Language: "cobol"})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
	require.Zero(t, transport.executeCalls())
	require.Zero(t, transport.runtimesCalls)
}

func TestExecuteEmptyCodeIsValidationError(t *testing.T) {
	transport := &stubTransport{}
	client, _ := newTestClient(transport)

	_, err := client.Execute(context.Background(), ExecuteRequest{Code: "   ", Language: "python"})
	require.True(t, IsValidationError(err))
	require.Zero(t, transport.executeCalls())
}

func TestExecuteBuildsRequestFromLanguageTable(t *testing.T) {
	transport := &stubTransport{runtimes: []Runtime{
		{Language: "python", Version: "3.10.0"},
		{Language: "python", Version: "3.12.1"},
		{Language: "python", Version: "3.9.4"},
	}}
	client, _ := newTestClient(transport)

	result, err := client.Execute(context.Background(), ExecuteRequest{Code: "print(input())", Language: "Python", Stdin: "hi"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, ClassificationOK, result.Classification)
	require.Equal(t, 1, result.Attempts)

	require.Len(t, transport.calls, 1)
	req := transport.calls[0]
	require.Equal(t, "python", req.Language)
	require.Equal(t, "3.12.1", req.Version)
	require.Equal(t, []File{{Name: "main.py", Content: "print(input())"}}, req.Files)
	require.Equal(t, "hi", req.Stdin)
	require.Equal(t, DefaultCompileTimeout, req.CompileTimeout)
	require.Equal(t, DefaultRunTimeout, req.RunTimeout)

	_, err = client.Execute(context.Background(), ExecuteRequest{Code: "print(1)", Language: "python"})
	require.NoError(t, err)
	require.Equal(t, 1, transport.runtimesCalls)
}

func TestExecuteFallsBackToAnyVersionWhenRuntimesUnavailable(t *testing.T) {
	transport := &stubTransport{runtimesErr: errors.New("boom")}
	client, _ := newTestClient(transport)

	_, err := client.Execute(context.Background(), ExecuteRequest{Code: "SELECT 1;", Language: "sql"})
	require.NoError(t, err)
	require.Equal(t, "sqlite3", transport.calls[0].Language)
	require.Equal(t, "*", transport.calls[0].Version)
	require.Equal(t, "main.sql", transport.calls[0].Files[0].Name)
}

func TestExecuteRetriesTransientFailuresWithBackoff(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		if call < 3 {
			return TransportResponse{}, &TransientError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return okResponse("done"), nil
	}}
	client, sleeps := newTestClient(transport)

	result, err := client.Execute(context.Background(), ExecuteRequest{Code: "x", Language: "go"})
	require.NoError(t, err)
	require.Equal(t, ClassificationOK, result.Classification)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestExecuteExhaustionReturnsNetworkErrorResult(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		return TransportResponse{}, &TransientError{Err: context.DeadlineExceeded}
	}}
	client, sleeps := newTestClient(transport)

	result, err := client.Execute(context.Background(), ExecuteRequest{Code: "x", Language: "python"})
	require.NoError(t, err)
	require.Equal(t, ClassificationNetworkError, result.Classification)
	require.False(t, result.Success)
	require.Equal(t, 4, result.Attempts)
	require.Equal(t, 4, transport.executeCalls())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
	require.NotEmpty(t, result.Error)
}

func TestExecuteDoesNotRetryRejectedRequests(t *testing.T) {
	transport := &stubTransport{handler: func(req TransportRequest, call int) (TransportResponse, error) {
		return TransportResponse{}, errors.New("sandbox rejected request (status 400)")
	}}
	client, sleeps := newTestClient(transport)

	result, err := client.Execute(context.Background(), ExecuteRequest{Code: "x", Language: "python"})
	require.NoError(t, err)
	require.Equal(t, ClassificationNetworkError, result.Classification)
	require.Equal(t, 1, transport.executeCalls())
	require.Empty(t, *sleeps)
}

func TestExecuteReturnsContextErrorWhenCancelled(t *testing.T) {
	transport := &stubTransport{}
	client, _ := newTestClient(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := client.Execute(ctx, ExecuteRequest{Code: "x", Language: "python"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ClassificationNetworkError, result.Classification)
	require.Zero(t, transport.executeCalls())
}

func TestClassify(t *testing.T) {
	req := TransportRequest{Language: "java", Version: "15.0.2"}

	tests := []struct {
		name     string
		resp     TransportResponse
		expected Classification
		exitCode int
	}{
		{
			name:     "ok",
			resp:     okResponse("1"),
			expected: ClassificationOK,
		},
		{
			name: "compile error",
			resp: TransportResponse{
				Compile: &StageResult{Stderr: "Main.java:1: error", Code: intPtr(1)},
				Run:     StageResult{Code: intPtr(0)},
			},
			expected: ClassificationCompileError,
			exitCode: 1,
		},
		{
			name:     "timeout",
			resp:     TransportResponse{Run: StageResult{Signal: "SIGKILL"}},
			expected: ClassificationTimeout,
			exitCode: 137,
		},
		{
			name:     "runtime error",
			resp:     TransportResponse{Run: StageResult{Stderr: "NameError", Code: intPtr(1)}},
			expected: ClassificationRuntimeError,
			exitCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classify(req, tt.resp, 1)
			require.Equal(t, tt.expected, result.Classification)
			require.Equal(t, tt.exitCode, result.ExitCode)
			require.Equal(t, tt.expected == ClassificationOK, result.Success)
			require.Equal(t, "15.0.2", result.Version)
		})
	}
}

func TestClientSharedGateSpacesConcurrentCalls(t *testing.T) {
	const interval = 40 * time.Millisecond

	transport := &stubTransport{runtimes: []Runtime{{Language: "python", Version: "3.10.0"}}}
	gate := NewRateGate(interval)
	first := NewClient(transport, gate, ClientConfig{})
	second := NewClient(transport, gate, ClientConfig{})

	var wg sync.WaitGroup
	for _, client := range []*Client{first, second} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := c.Execute(context.Background(), ExecuteRequest{Code: "print(1)", Language: "python"})
				require.NoError(t, err)
			}
		}(client)
	}
	wg.Wait()

	transport.mu.Lock()
	times := append([]time.Time(nil), transport.callTimes...)
	transport.mu.Unlock()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	require.GreaterOrEqual(t, len(times), 6)
	for i := 1; i < len(times); i++ {
		require.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval)
	}
}
