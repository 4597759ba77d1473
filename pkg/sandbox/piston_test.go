package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPistonTransportExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/execute", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "python", body["language"])
		require.Equal(t, "3.10.0", body["version"])
		require.Equal(t, "2 3", body["stdin"])
		require.EqualValues(t, 10000, body["compile_timeout"])
		require.EqualValues(t, 5000, body["run_timeout"])

		files := body["files"].([]interface{})
		require.Len(t, files, 1)
		require.Equal(t, "main.py", files[0].(map[string]interface{})["name"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"language":"python","version":"3.10.0","run":{"stdout":"5\n","stderr":"","code":0,"signal":null,"output":"5\n"}}`))
	}))
	defer server.Close()

	transport := NewPistonTransport(PistonConfig{BaseURL: server.URL + "/"})
	resp, err := transport.Execute(context.Background(), TransportRequest{
		Language:       "python",
		Version:        "3.10.0",
		Files:          []File{{Name: "main.py", Content: "print(sum(map(int, input().split())))"}},
		Stdin:          "2 3",
		CompileTimeout: 10 * time.Second,
		RunTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "5\n", resp.Run.Stdout)
	require.NotNil(t, resp.Run.Code)
	require.Equal(t, 0, resp.Run.ExitCode())
	require.Nil(t, resp.Compile)
}

func TestPistonTransportClassifiesStatusCodes(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	}))
	defer server.Close()

	transport := NewPistonTransport(PistonConfig{BaseURL: server.URL})

	_, err := transport.Execute(context.Background(), TransportRequest{Language: "python"})
	require.Error(t, err)
	require.True(t, IsTransient(err))

	status = http.StatusTooManyRequests
	_, err = transport.Execute(context.Background(), TransportRequest{Language: "python"})
	require.True(t, IsTransient(err))

	status = http.StatusBadRequest
	_, err = transport.Execute(context.Background(), TransportRequest{Language: "python"})
	require.Error(t, err)
	require.False(t, IsTransient(err))
}

func TestPistonTransportUnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	transport := NewPistonTransport(PistonConfig{BaseURL: url, RequestTimeout: time.Second})
	_, err := transport.Execute(context.Background(), TransportRequest{Language: "python"})
	require.True(t, IsTransient(err))
}

func TestPistonTransportRuntimes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/runtimes", r.URL.Path)
		_, _ = w.Write([]byte(`[{"language":"sqlite3","version":"3.36.0","aliases":["sqlite","sql"]},{"language":"go","version":"1.16.2","aliases":["golang"]}]`))
	}))
	defer server.Close()

	runtimes, err := NewPistonTransport(PistonConfig{BaseURL: server.URL}).Runtimes(context.Background())
	require.NoError(t, err)
	require.Len(t, runtimes, 2)
	require.Equal(t, "sqlite3", runtimes[0].Language)
	require.Equal(t, []string{"sqlite", "sql"}, runtimes[0].Aliases)
}
