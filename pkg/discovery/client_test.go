package discovery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/config"
)

func testClientConfig() *config.ClientConfig {
	return &config.ClientConfig{
		RequestTimeout:  5 * time.Second,
		UploadTimeout:   5 * time.Second,
		MaxAttempts:     3,
		RetryBackoffMin: 1 * time.Millisecond,
		RetryBackoffMax: 5 * time.Millisecond,
	}
}

func newTestClient(apiURL, dashURL string) *Client {
	return NewClient(apiURL, dashURL, testClientConfig())
}

func TestClient_AuthAndClientHeaders(t *testing.T) {
	var gotAuth, gotClientType, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotClientType = r.Header.Get("X-Client-Type")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"plan":"free_tier","credits_remaining":10}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)
	_, err := c.Account(context.Background(), "disco_test")
	require.NoError(t, err)

	assert.Equal(t, "Bearer disco_test", gotAuth)
	assert.Equal(t, "mcp", gotClientType)
	assert.Contains(t, gotUA, "discovery-mcp/")
}

func TestClient_StatusCodeMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "401 is auth failure",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrAuthFailed)
			},
		},
		{
			name:   "402 is payment required",
			status: http.StatusPaymentRequired,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrPaymentRequired)
			},
		},
		{
			name:    "429 surfaces typed error when retry-after exceeds the backoff budget",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "17"},
			check: func(t *testing.T, err error) {
				var rateLimit *RateLimitError
				require.ErrorAs(t, err, &rateLimit)
				assert.Equal(t, 17*time.Second, rateLimit.RetryAfter)
			},
		},
		{
			name:   "400 carries service detail",
			status: http.StatusBadRequest,
			body:   `{"detail":"unknown target column"}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
				assert.Equal(t, "unknown target column", apiErr.Detail)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(server.URL, server.URL)
			_, err := c.Account(context.Background(), "disco_test")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"plans":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)
	raw, err := c.ListPlans(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"plans":[]}`, string(raw))
	assert.Equal(t, 3, attempts)
}

func TestClient_ExhaustedRetriesSurfaceAsUnavailable(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)
	_, err := c.ListPlans(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestClient_RateLimitRetriedWithinBudget(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"plans":[]}`))
	}))
	defer server.Close()

	cfg := testClientConfig()
	cfg.RetryBackoffMax = 2 * time.Second
	c := NewClient(server.URL, server.URL, cfg)

	start := time.Now()
	_, err := c.ListPlans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "retry must honor Retry-After")
}

func TestClient_PersistentRateLimitKeepsTypedError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := testClientConfig()
	cfg.MaxAttempts = 2
	cfg.RetryBackoffMax = 2 * time.Second
	c := NewClient(server.URL, server.URL, cfg)

	_, err := c.ListPlans(context.Background())
	require.Error(t, err)

	var rateLimit *RateLimitError
	assert.ErrorAs(t, err, &rateLimit, "exhaustion must not flatten the rate-limit error")
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 2, attempts)
}

func TestClient_ValidationErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"bad request"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)
	_, err := c.ListPlans(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestClient_CreateRun(t *testing.T) {
	t.Run("sends idempotency key and returns run id", func(t *testing.T) {
		var gotKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("Idempotency-Key")
			var sub RunSubmission
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
			assert.Equal(t, "outcome", sub.TargetColumn)
			_, _ = w.Write([]byte(`{"run_id":"run-42","credits_charged":6}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL, server.URL)
		accepted, err := c.CreateRun(context.Background(), "disco_test", "tok-1", RunSubmission{
			TargetColumn:    "outcome",
			DepthIterations: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, "tok-1", gotKey)
		assert.Equal(t, "run-42", accepted.RunID)
		assert.Equal(t, 6, accepted.CreditsCharged)
		assert.False(t, accepted.AlreadySubmitted)
	})

	t.Run("duplicate token conflict returns existing run", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"run_id":"run-42","detail":"duplicate submission"}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL, server.URL)
		accepted, err := c.CreateRun(context.Background(), "disco_test", "tok-1", RunSubmission{})
		require.NoError(t, err)
		assert.Equal(t, "run-42", accepted.RunID)
		assert.True(t, accepted.AlreadySubmitted)
	})

	t.Run("conflict without run id stays an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"detail":"title already used"}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL, server.URL)
		_, err := c.CreateRun(context.Background(), "disco_test", "tok-1", RunSubmission{})
		require.Error(t, err)
		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
	})

	t.Run("missing idempotency key is rejected locally", func(t *testing.T) {
		c := newTestClient("http://unused.invalid", "http://unused.invalid")
		_, err := c.CreateRun(context.Background(), "disco_test", "", RunSubmission{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "idempotency key")
	})
}

func TestClient_UploadDataset(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "heart.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte("age,outcome\n63,1\n"), 0o644))

	var uploadedBody string
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/api/data/upload/presign", func(w http.ResponseWriter, r *http.Request) {
		var req presignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "heart.csv", req.FileName)
		assert.Equal(t, int64(17), req.FileSize)
		resp := presignResponse{
			UploadURL:   serverURL + "/blob/abc",
			Key:         "uploads/abc",
			UploadToken: "tok-upload",
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	mux.HandleFunc("/blob/abc", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploadedBody = string(body)
	})
	mux.HandleFunc("/api/data/upload/finalize", func(w http.ResponseWriter, r *http.Request) {
		var req finalizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "uploads/abc", req.Key)
		assert.Equal(t, "tok-upload", req.UploadToken)
		_, _ = w.Write([]byte(`{
			"ok": true,
			"file": {"key":"uploads/abc","name":"heart.csv","size":17,"fileHash":"deadbeef"},
			"columns": [{"name":"age"},{"name":"outcome"}]
		}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := newTestClient(server.URL, server.URL)
	ds, err := c.UploadDataset(context.Background(), "disco_test", dataPath)
	require.NoError(t, err)

	assert.Equal(t, "uploads/abc", ds.File.Key)
	assert.Equal(t, "deadbeef", ds.File.FileHash)
	require.Len(t, ds.Columns, 2)
	assert.Equal(t, "age", ds.Columns[0].Name)
	assert.Equal(t, "age,outcome\n63,1\n", uploadedBody)
}

func TestClient_UploadDataset_FinalizeRejection(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte("x\n"), 0o644))

	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/api/data/upload/presign", func(w http.ResponseWriter, r *http.Request) {
		resp := presignResponse{UploadURL: serverURL + "/blob/x", Key: "k", UploadToken: "t"}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	mux.HandleFunc("/blob/x", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/data/upload/finalize", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": false, "issues": {"errors": [{"message": "file has no header row"}]}}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := newTestClient(server.URL, server.URL)
	_, err := c.UploadDataset(context.Background(), "disco_test", dataPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file has no header row")
}

func TestClient_RunStatus(t *testing.T) {
	t.Run("decodes status envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/runs/run-42/results", r.URL.Path)
			_, _ = w.Write([]byte(`{"run_id":"run-42","status":"processing","job_status":"training"}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL, server.URL)
		status, err := c.RunStatus(context.Background(), "disco_test", "run-42")
		require.NoError(t, err)
		assert.Equal(t, RemoteStatusProcessing, status.Status)
		assert.Equal(t, "training", status.JobStatus)
	})

	t.Run("404 maps to run not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"run not found"}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL, server.URL)
		_, err := c.RunStatus(context.Background(), "disco_test", "run-42")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestClient_RunResults_PayloadPassThrough(t *testing.T) {
	payload := `{"run_id":"run-42","status":"completed","patterns":[{"p_value":0.003,"novelty":"novel"}],"summary":"one novel interaction","report_url":"https://disco.leap-labs.com/r/42"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)
	results, err := c.RunResults(context.Background(), "disco_test", "run-42")
	require.NoError(t, err)

	assert.Equal(t, RemoteStatusCompleted, results.Status)
	assert.JSONEq(t, payload, string(results.Raw))
}

func TestClient_Signup_NoAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["email"])
		_, _ = w.Write([]byte(`{"api_key":"disco_new"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)
	raw, err := c.Signup(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
	assert.Contains(t, string(raw), "disco_new")
}
