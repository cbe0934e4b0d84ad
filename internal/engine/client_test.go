package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestExecuteQuery(t *testing.T) {
	logger := zap.NewNop()

	t.Run("SubmitPollDownload", func(t *testing.T) {
		var polls atomic.Int32

		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("Submit method = %s, want POST", r.Method)
			}
			if r.Header.Get("X-Query-Signature") != "sig-123" {
				t.Errorf("Missing query signature header")
			}

			var payload map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("Bad submit payload: %v", err)
			}
			if payload["query"] != "SELECT * FROM results" {
				t.Errorf("Query = %v", payload["query"])
			}
			if payload["job_id"] != "21" {
				t.Errorf("job_id = %v, want string 21", payload["job_id"])
			}

			json.NewEncoder(w).Encode(map[string]string{"query_id": "q-1"})
		})
		mux.HandleFunc("/query/q-1", func(w http.ResponseWriter, r *http.Request) {
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]string{"query_status": "pending"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"query_status":  "success",
				"query_results": server.URL + "/download",
			})
		})
		mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("sqlite-bytes"))
		})

		client := NewClient(Config{
			BaseURL:        server.URL,
			QuerySignature: "sig-123",
			Timeout:        5 * time.Second,
			PollInterval:   10 * time.Millisecond,
		}, logger)

		resultsPath := filepath.Join(t.TempDir(), "query_results.db")
		result, err := client.ExecuteQuery(context.Background(), "SELECT * FROM results", nil, 21, 12, resultsPath)
		if err != nil {
			t.Fatalf("ExecuteQuery failed: %v", err)
		}
		if result.FilePath != resultsPath {
			t.Errorf("FilePath = %q, want %q", result.FilePath, resultsPath)
		}
		if polls.Load() < 2 {
			t.Errorf("Polled %d times, want at least 2", polls.Load())
		}

		data, err := os.ReadFile(resultsPath)
		if err != nil {
			t.Fatalf("Results file missing: %v", err)
		}
		if string(data) != "sqlite-bytes" {
			t.Errorf("Downloaded content = %q", data)
		}
	})

	t.Run("FailedQuery", func(t *testing.T) {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"query_id": "q-2"})
		})
		mux.HandleFunc("/query/q-2", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"query_status": "failed"})
		})

		client := NewClient(Config{
			BaseURL:      server.URL,
			Timeout:      time.Second,
			PollInterval: 10 * time.Millisecond,
		}, logger)

		_, err := client.ExecuteQuery(context.Background(), "SELECT 1", nil, 1, 1, filepath.Join(t.TempDir(), "out.db"))
		if err == nil {
			t.Fatal("Failed query did not return an error")
		}
	})

	t.Run("SubmissionRejected", func(t *testing.T) {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"detail": "bad signature"})
		})

		client := NewClient(Config{
			BaseURL:      server.URL,
			Timeout:      time.Second,
			PollInterval: 10 * time.Millisecond,
		}, logger)

		_, err := client.ExecuteQuery(context.Background(), "SELECT 1", nil, 1, 1, filepath.Join(t.TempDir(), "out.db"))
		if err == nil {
			t.Fatal("Rejected submission did not return an error")
		}
		queryErr, ok := err.(*QueryError)
		if !ok {
			t.Fatalf("Error type = %T, want *QueryError", err)
		}
		if queryErr.StatusCode != http.StatusForbidden {
			t.Errorf("StatusCode = %d, want 403", queryErr.StatusCode)
		}
	})

	t.Run("PollTimeout", func(t *testing.T) {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"query_id": "q-3"})
		})
		mux.HandleFunc("/query/q-3", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"query_status": "pending"})
		})

		client := NewClient(Config{
			BaseURL:      server.URL,
			Timeout:      50 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		}, logger)

		_, err := client.ExecuteQuery(context.Background(), "SELECT 1", nil, 1, 1, filepath.Join(t.TempDir(), "out.db"))
		if err == nil {
			t.Fatal("Pending-forever query did not time out")
		}
	})
}
