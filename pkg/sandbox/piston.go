package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultPistonURL is the public Piston v2 endpoint.
const DefaultPistonURL = "https://emkc.org/api/v2/piston"

// PistonConfig configures the HTTP transport.
type PistonConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// PistonTransport talks to a Piston v2 compatible sandbox over HTTP.
type PistonTransport struct {
	baseURL string
	http    *http.Client
}

// NewPistonTransport builds the transport. A nil HTTPClient gets one with RequestTimeout.
func NewPistonTransport(cfg PistonConfig) *PistonTransport {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultPistonURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &PistonTransport{baseURL: baseURL, http: client}
}

type pistonExecuteRequest struct {
	Language       string `json:"language"`
	Version        string `json:"version"`
	Files          []File `json:"files"`
	Stdin          string `json:"stdin"`
	CompileTimeout int64  `json:"compile_timeout"`
	RunTimeout     int64  `json:"run_timeout"`
}

// Execute implements Transport.
func (t *PistonTransport) Execute(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	payload, err := json.Marshal(pistonExecuteRequest{
		Language:       req.Language,
		Version:        req.Version,
		Files:          req.Files,
		Stdin:          req.Stdin,
		CompileTimeout: req.CompileTimeout.Milliseconds(),
		RunTimeout:     req.RunTimeout.Milliseconds(),
	})
	if err != nil {
		return TransportResponse{}, fmt.Errorf("encode execute payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return TransportResponse{}, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp TransportResponse
	if err := t.do(httpReq, &resp); err != nil {
		return TransportResponse{}, err
	}
	return resp, nil
}

// Runtimes implements Transport.
func (t *PistonTransport) Runtimes(ctx context.Context) ([]Runtime, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/runtimes", nil)
	if err != nil {
		return nil, fmt.Errorf("build runtimes request: %w", err)
	}

	var runtimes []Runtime
	if err := t.do(httpReq, &runtimes); err != nil {
		return nil, err
	}
	return runtimes, nil
}

func (t *PistonTransport) do(req *http.Request, out interface{}) error {
	resp, err := t.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sandbox rejected request (status %d): %s", resp.StatusCode, snippet(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode sandbox response: %w", err)
	}
	return nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200]
	}
	return text
}
