package mockbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holon-run/prquiz/pkg/backend"
	"github.com/holon-run/prquiz/pkg/quiz"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *MemoryStore
	clock  *fakeClock
	server *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), clock: newFakeClock()}
	cfg.Store = f.store
	cfg.Clock = f.clock.Now
	n := 0
	cfg.NewID = func() string {
		n++
		return "quiz-" + string(rune('a'+n-1))
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) client(key string) *backend.Client {
	return backend.NewClient(backend.Config{BaseURL: f.server.URL, APIKey: key})
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

var sampleRequest = quiz.ValidationRequest{
	PullRequest: quiz.PullRequestRef{Owner: "acme", Repo: "api", Number: 7, Title: "Add login", HeadSHA: "abc123"},
	Files:       []quiz.FileChange{{Filename: "login.go", Status: quiz.FileAdded, Additions: 10, Changes: 10}},
}

func TestGenerateAndStatus(t *testing.T) {
	f := newFixture(t, Config{FrontendURL: "https://quiz.test/"})
	c := f.client("any")

	subject, authErr, err := c.Generate(context.Background(), sampleRequest)
	require.NoError(t, err)
	require.Nil(t, authErr)
	assert.Equal(t, "quiz-a", subject.ID)
	assert.Equal(t, "https://quiz.test/quiz/quiz-a", subject.URL)

	rec, err := f.store.Get(context.Background(), "quiz-a")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Metadata.PRNumber)
	assert.Equal(t, "abc123", rec.Metadata.CommitSHA)
	assert.Len(t, rec.Metadata.FilesChanged, 1)

	resp, err := c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.Status{State: quiz.StatePending}, resp)
}

func TestAutoPass(t *testing.T) {
	f := newFixture(t, Config{Behavior: Behavior{
		DefaultStatus:            quiz.StatePending,
		AutoPassAfter:            30 * time.Second,
		FailedAttemptsBeforePass: 2,
	}})
	c := f.client("any")

	subject, _, err := c.Generate(context.Background(), sampleRequest)
	require.NoError(t, err)

	f.clock.Advance(29 * time.Second)
	resp, err := c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatePending, resp.(quiz.Status).State)

	f.clock.Advance(time.Second)
	resp, err = c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	status := resp.(quiz.Status)
	assert.Equal(t, quiz.StatePassed, status.State)
	assert.Equal(t, 3, status.Attempts)
	require.NotNil(t, status.LastAttemptAt)
	assert.True(t, status.LastAttemptAt.Equal(f.clock.Now()))

	// A passed quiz stays as it was.
	f.clock.Advance(time.Minute)
	resp, err = c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, status, resp)
}

func TestDefaultStatus(t *testing.T) {
	f := newFixture(t, Config{Behavior: Behavior{DefaultStatus: quiz.StateFailed}})
	c := f.client("any")

	subject, _, err := c.Generate(context.Background(), sampleRequest)
	require.NoError(t, err)
	resp, err := c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StateFailed, resp.(quiz.Status).State)
}

func TestManualUpdate(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.client("any")
	subject, _, err := c.Generate(context.Background(), sampleRequest)
	require.NoError(t, err)

	resp := f.post(t, "/quiz-status/"+subject.ID+"/update", map[string]interface{}{"status": "FAILED", "attempts": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	status := got.(quiz.Status)
	assert.Equal(t, quiz.StateFailed, status.State)
	assert.Equal(t, 1, status.Attempts)
	assert.NotNil(t, status.LastAttemptAt)

	// Attempts alone leave the status untouched.
	resp = f.post(t, "/quiz-status/"+subject.ID+"/update", map[string]interface{}{"attempts": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err = c.Status(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StateFailed, got.(quiz.Status).State)
	assert.Equal(t, 2, got.(quiz.Status).Attempts)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	f := newFixture(t, Config{})
	_, _, err := f.client("any").Generate(context.Background(), sampleRequest)
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"unknown state", "/quiz-status/quiz-a/update", map[string]string{"status": "DONE"}, http.StatusBadRequest},
		{"negative attempts", "/quiz-status/quiz-a/update", map[string]int{"attempts": -1}, http.StatusBadRequest},
		{"unknown quiz", "/quiz-status/quiz-zz/update", map[string]string{"status": "PASSED"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestUnknownQuiz(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.client("any").Status(context.Background(), "quiz-missing")
	require.Error(t, err)
	assert.True(t, backend.IsNotFound(err))
}

func TestAPIKeys(t *testing.T) {
	f := newFixture(t, Config{
		APIKeys:     []string{"valid-test-key"},
		ExpiredKeys: []string{"expired-key"},
	})

	_, authErr, err := f.client("valid-test-key").Generate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Nil(t, authErr)

	_, authErr, err = f.client("invalid-key").Generate(context.Background(), sampleRequest)
	require.NoError(t, err)
	require.NotNil(t, authErr)
	assert.Equal(t, quiz.AuthInvalidKey, authErr.Code)

	resp, err := f.client("expired-key").Status(context.Background(), "quiz-a")
	require.NoError(t, err)
	require.IsType(t, &quiz.AuthError{}, resp)
	assert.Equal(t, quiz.AuthExpiredKey, resp.(*quiz.AuthError).Code)

	// Debugging routes stay open.
	health, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestListAndHealth(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.client("any")
	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Second)
		_, _, err := c.Generate(context.Background(), sampleRequest)
		require.NoError(t, err)
	}

	resp, err := http.Get(f.server.URL + "/quizzes")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []listEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "quiz-a", list[0].ID)
	assert.Equal(t, "quiz-b", list[1].ID)
	assert.Equal(t, 7, list[1].PRNumber)
	assert.Equal(t, quiz.StatePending, list[0].Status)

	hresp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer hresp.Body.Close()
	var health healthResponse
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Quizzes)
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, Config{})
	resp, err := http.Post(f.server.URL+"/generate-quiz", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBehaviorValidate(t *testing.T) {
	tests := []struct {
		name    string
		b       Behavior
		wantErr bool
	}{
		{"default", DefaultBehavior(), false},
		{"passed", Behavior{DefaultStatus: quiz.StatePassed}, false},
		{"unknown status", Behavior{DefaultStatus: "DONE"}, true},
		{"negative delay", Behavior{DefaultStatus: quiz.StatePending, AutoPassAfter: -time.Second}, true},
		{"negative attempts", Behavior{DefaultStatus: quiz.StatePending, FailedAttemptsBeforePass: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := New(Config{})
	assert.Error(t, err, "store is required")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, err := New(Config{Store: NewMemoryStore()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
