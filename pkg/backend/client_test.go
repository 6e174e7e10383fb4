package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holon-run/prquiz/pkg/quiz"
)

func sampleRequest() quiz.ValidationRequest {
	return quiz.ValidationRequest{
		PullRequest: quiz.PullRequestRef{
			Owner:      "acme",
			Repo:       "api",
			Number:     7,
			Author:     "octocat",
			HeadSHA:    "abc123",
			BaseBranch: "main",
			HeadBranch: "feature/login",
			Title:      "Add login",
		},
		Files: []quiz.FileChange{
			{Filename: "login.go", Status: quiz.FileAdded, Additions: 40, Changes: 40},
		},
	}
}

func TestGenerateSendsPullRequestMetadata(t *testing.T) {
	var got map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate-quiz", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quizId":"quiz-1","quizUrl":"http://quiz.test/quiz/quiz-1"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret-key"})
	subject, authErr, err := c.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Nil(t, authErr)

	assert.Equal(t, quiz.Subject{ID: "quiz-1", URL: "http://quiz.test/quiz/quiz-1"}, subject)
	assert.Equal(t, "Bearer secret-key", auth)
	assert.Equal(t, "acme", got["repoOwner"])
	assert.Equal(t, "api", got["repoName"])
	assert.Equal(t, float64(7), got["prNumber"])
	assert.Equal(t, "abc123", got["commitSHA"])
	assert.Equal(t, "feature/login", got["headBranch"])
	files, ok := got["filesChanged"].([]interface{})
	require.True(t, ok)
	assert.Len(t, files, 1)
}

func TestEmptyAPIKeyMakesNoRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "   "})

	_, authErr, err := c.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.NotNil(t, authErr)
	assert.Equal(t, quiz.AuthInvalidKey, authErr.Code)

	resp, err := c.Status(context.Background(), "quiz-1")
	require.NoError(t, err)
	denied, ok := resp.(*quiz.AuthError)
	require.True(t, ok, "expected *quiz.AuthError, got %T", resp)
	assert.Equal(t, quiz.AuthInvalidKey, denied.Code)

	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantAuth quiz.AuthCode
		wantErr  bool
		want     quiz.State
	}{
		{name: "pending", code: 200, body: `{"status":"PENDING","attempts":0,"lastAttemptAt":null}`, want: quiz.StatePending},
		{name: "passed", code: 200, body: `{"status":"PASSED","attempts":2,"lastAttemptAt":"2024-05-01T10:00:00Z"}`, want: quiz.StatePassed},
		{name: "unauthorized", code: 401, body: `{}`, wantAuth: quiz.AuthInvalidKey},
		{name: "forbidden", code: 403, body: ``, wantAuth: quiz.AuthInvalidKey},
		{name: "expired in body", code: 401, body: `{"error":"expired_api_key","message":"renew it"}`, wantAuth: quiz.AuthExpiredKey},
		{name: "rate limited", code: 429, body: `{"error":"rate_limited"}`, wantAuth: quiz.AuthRateLimited},
		{name: "error envelope on 200", code: 200, body: `{"error":"expired_api_key","message":"old"}`, wantAuth: quiz.AuthExpiredKey},
		{name: "server error", code: 500, body: `{"error":"boom"}`, wantErr: true},
		{name: "not found", code: 404, body: `{"error":"Quiz not found"}`, wantErr: true},
		{name: "unknown state", code: 200, body: `{"status":"ARCHIVED"}`, wantErr: true},
		{name: "garbage", code: 200, body: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/quiz-status/quiz-9", r.URL.Path)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}).Status(context.Background(), "quiz-9")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			if tt.wantAuth != "" {
				authErr, ok := resp.(*quiz.AuthError)
				require.True(t, ok, "expected *quiz.AuthError, got %T", resp)
				assert.Equal(t, tt.wantAuth, authErr.Code)
				assert.NotEmpty(t, authErr.Message)
				return
			}

			status, ok := resp.(quiz.Status)
			require.True(t, ok, "expected quiz.Status, got %T", resp)
			assert.Equal(t, tt.want, status.State)
		})
	}
}

func TestStatusParsesLastAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"FAILED","attempts":3,"lastAttemptAt":"2024-05-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}).Status(context.Background(), "q")
	require.NoError(t, err)
	status := resp.(quiz.Status)
	assert.Equal(t, 3, status.Attempts)
	require.NotNil(t, status.LastAttemptAt)
	assert.Equal(t, 2024, status.LastAttemptAt.Year())
}

func TestServiceErrorDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Quiz not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}).Status(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.False(t, svcErr.Temporary())
	assert.Contains(t, svcErr.Error(), "Quiz not found")
}

func TestGenerateRequiresQuizID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quizUrl":"http://x"}`))
	}))
	defer srv.Close()

	_, _, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}).Generate(context.Background(), sampleRequest())
	require.Error(t, err)
}

func TestGenerateClassification(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantAuth quiz.AuthCode
		wantErr  bool
	}{
		{name: "created", code: 200, body: `{"quizId":"quiz-1","quizUrl":"http://x/quiz/quiz-1"}`},
		{name: "expired", code: 401, body: `{"error":"expired_api_key"}`, wantAuth: quiz.AuthExpiredKey},
		{name: "error envelope on 200", code: 200, body: `{"error":"expired_api_key","message":"old"}`, wantAuth: quiz.AuthExpiredKey},
		{name: "rate limited on 200", code: 200, body: `{"error":"rate_limited"}`, wantAuth: quiz.AuthRateLimited},
		{name: "unknown error on 200", code: 200, body: `{"error":"quota_exceeded","message":"no quizzes left"}`, wantErr: true},
		{name: "server error", code: 502, body: `bad gateway`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			subject, authErr, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}).Generate(context.Background(), sampleRequest())
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, authErr)
				return
			}
			require.NoError(t, err)
			if tt.wantAuth != "" {
				require.NotNil(t, authErr)
				assert.Equal(t, tt.wantAuth, authErr.Code)
				assert.Empty(t, subject.ID)
				return
			}
			assert.Nil(t, authErr)
			assert.Equal(t, "quiz-1", subject.ID)
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, defaultTimeout, c.http.Timeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)
}
