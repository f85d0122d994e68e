package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testPath = "lists/proxy.list"

type fakeGitHub struct {
	mu        sync.Mutex
	sha       string
	text      string
	getStatus []int
	putStatus []int
	gets      int
	puts      int
	putBodies []putRequest
	headers   http.Header
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = r.Header.Clone()

	if r.URL.Path != "/repos/acme/rules/contents/"+testPath {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		f.gets++
		if r.URL.Query().Get("ref") != "main" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "missing ref"})
			return
		}
		if status, ok := pop(&f.getStatus); ok {
			writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(f.text))
		if len(encoded) > 8 {
			encoded = encoded[:8] + "\n" + encoded[8:]
		}
		writeJSON(w, http.StatusOK, map[string]string{"sha": f.sha, "content": encoded, "encoding": "base64"})
	case http.MethodPut:
		f.puts++
		var body putRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		f.putBodies = append(f.putBodies, body)
		if status, ok := pop(&f.putStatus); ok {
			writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		if body.SHA != f.sha {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "is at " + f.sha + " but expected " + body.SHA})
			return
		}
		raw, _ := base64.StdEncoding.DecodeString(body.Content)
		f.text = string(raw)
		f.sha = fmt.Sprintf("blob-%d", f.puts)
		writeJSON(w, http.StatusOK, map[string]any{
			"content": map[string]string{"sha": f.sha},
			"commit":  map[string]string{"sha": "commit-" + f.sha, "html_url": "https://github.test/commit/" + f.sha},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func pop(queue *[]int) (int, bool) {
	if len(*queue) == 0 {
		return 0, false
	}
	v := (*queue)[0]
	*queue = (*queue)[1:]
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type countingRecorder struct {
	mu       sync.Mutex
	errors   map[string]int
	observed map[string]int
}

func (r *countingRecorder) StoreError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[op]++
}

func (r *countingRecorder) ObserveStore(op string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed[op]++
}

func newTestClient(t *testing.T, fake *fakeGitHub) (*Client, *countingRecorder) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	rec := &countingRecorder{errors: map[string]int{}, observed: map[string]int{}}
	client := New(Options{
		BaseURL:    srv.URL,
		Owner:      "acme",
		Repo:       "rules",
		Branch:     "main",
		Token:      "secret",
		Committer:  Identity{Name: "Rulekeeper Bot", Email: "bot@users.noreply.github.com"},
		MaxRetries: 2,
		Backoff:    0,
		UserAgent:  "rulekeeper-test",
		Metrics:    rec,
	})
	return client, rec
}

func TestFetchDecodesContent(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", text: "DOMAIN,foo.com,PROXY\n# comment\n"}
	client, rec := newTestClient(t, fake)

	file, err := client.Fetch(context.Background(), testPath)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if file.SHA != "abc" || file.Text != fake.text || file.Path != testPath {
		t.Fatalf("unexpected file %+v", file)
	}
	if got := fake.headers.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if got := fake.headers.Get("User-Agent"); got != "rulekeeper-test" {
		t.Fatalf("expected user agent, got %q", got)
	}
	if got := fake.headers.Get("Accept"); got != "application/vnd.github+json" {
		t.Fatalf("expected github accept header, got %q", got)
	}
	if rec.observed["fetch"] != 1 || rec.errors["fetch"] != 0 {
		t.Fatalf("unexpected metrics %+v %+v", rec.observed, rec.errors)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", text: "x\n", getStatus: []int{502, 503}}
	client, rec := newTestClient(t, fake)

	if _, err := client.Fetch(context.Background(), testPath); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if fake.gets != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.gets)
	}
	if rec.errors["fetch"] != 2 || rec.observed["fetch"] != 3 {
		t.Fatalf("expected 2 errors over 3 observations, got %+v %+v", rec.errors, rec.observed)
	}
}

func TestFetchGivesUpAfterBudget(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", getStatus: []int{500, 500, 500, 500}}
	client, _ := newTestClient(t, fake)

	_, err := client.Fetch(context.Background(), testPath)
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if fake.gets != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", fake.gets)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{401, 403, 404} {
		fake := &fakeGitHub{sha: "abc", getStatus: []int{status}}
		client, _ := newTestClient(t, fake)

		_, err := client.Fetch(context.Background(), testPath)
		if !errors.Is(err, ErrClient) {
			t.Fatalf("status %d: expected ErrClient, got %v", status, err)
		}
		var serr *StatusError
		if !errors.As(err, &serr) || serr.Status != status || serr.Body != http.StatusText(status) {
			t.Fatalf("status %d: unexpected error %#v", status, err)
		}
		if fake.gets != 1 {
			t.Fatalf("status %d: expected no retry, got %d attempts", status, fake.gets)
		}
		if NotFound(err) != (status == 404) {
			t.Fatalf("status %d: NotFound mismatch", status)
		}
	}
}

type flakyTransport struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls[req.Method]++
	fail := f.failures[req.Method] > 0
	if fail {
		f.failures[req.Method]--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newFlakyClient(t *testing.T, fake *fakeGitHub, transport *flakyTransport) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:    srv.URL,
		Owner:      "acme",
		Repo:       "rules",
		Branch:     "main",
		MaxRetries: 2,
		HTTPClient: &http.Client{Transport: transport},
	})
}

func TestFetchRetriesTransportErrors(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", text: "x\n"}
	transport := &flakyTransport{failures: map[string]int{http.MethodGet: 1}, calls: map[string]int{}}
	client := newFlakyClient(t, fake, transport)

	if _, err := client.Fetch(context.Background(), testPath); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if transport.calls[http.MethodGet] != 2 {
		t.Fatalf("expected 2 GET attempts, got %d", transport.calls[http.MethodGet])
	}
}

func TestCommitTransportErrorIsNotRetried(t *testing.T) {
	fake := &fakeGitHub{sha: "abc"}
	transport := &flakyTransport{failures: map[string]int{http.MethodPut: 5}, calls: map[string]int{}}
	client := newFlakyClient(t, fake, transport)

	_, err := client.Commit(context.Background(), CommitRequest{Path: testPath, Text: "x\n", Message: "m", BaseSHA: "abc"})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if transport.calls[http.MethodPut] != 1 {
		t.Fatalf("expected a single PUT, got %d", transport.calls[http.MethodPut])
	}
}

func TestCommitSendsPayload(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", text: "old\n"}
	client, rec := newTestClient(t, fake)

	res, err := client.Commit(context.Background(), CommitRequest{
		Path:    testPath,
		Text:    "DOMAIN,baz.com\n",
		Message: "Add rule: DOMAIN,baz.com by @alice",
		BaseSHA: "abc",
		Author:  &Identity{Name: "alice", Email: "alice@users.noreply.github.com"},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.SHA != "commit-blob-1" || res.URL != "https://github.test/commit/blob-1" || res.ContentSHA != "blob-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if fake.text != "DOMAIN,baz.com\n" {
		t.Fatalf("expected new text stored, got %q", fake.text)
	}

	body := fake.putBodies[0]
	if body.Branch != "main" || body.SHA != "abc" || body.Message != "Add rule: DOMAIN,baz.com by @alice" {
		t.Fatalf("unexpected payload %+v", body)
	}
	if body.Committer == nil || body.Committer.Name != "Rulekeeper Bot" {
		t.Fatalf("expected committer, got %+v", body.Committer)
	}
	if body.Author == nil || body.Author.Name != "alice" {
		t.Fatalf("expected author, got %+v", body.Author)
	}
	if rec.observed["commit"] != 1 || rec.errors["commit"] != 0 {
		t.Fatalf("unexpected metrics %+v %+v", rec.observed, rec.errors)
	}
}

func TestCommitConflictRefetchesAndRetriesOnce(t *testing.T) {
	fake := &fakeGitHub{sha: "new", text: "DOMAIN,other.com\n"}
	client, rec := newTestClient(t, fake)

	_, err := client.Commit(context.Background(), CommitRequest{
		Path:    testPath,
		Text:    "DOMAIN,baz.com\n",
		Message: "m",
		BaseSHA: "old",
	})
	if err != nil {
		t.Fatalf("expected conflict to be resolved, got %v", err)
	}
	if fake.puts != 2 || fake.gets != 1 {
		t.Fatalf("expected 2 PUTs and 1 refetch, got %d/%d", fake.puts, fake.gets)
	}
	if fake.putBodies[0].SHA != "old" || fake.putBodies[1].SHA != "new" {
		t.Fatalf("expected retry against the refetched token, got %q then %q", fake.putBodies[0].SHA, fake.putBodies[1].SHA)
	}
	if fake.putBodies[1].Content != fake.putBodies[0].Content {
		t.Fatalf("expected the same text on retry")
	}
	if rec.errors["commit"] != 0 || rec.observed["commit"] != 2 {
		t.Fatalf("expected conflicts to be observed but not counted as errors, got %+v %+v", rec.observed, rec.errors)
	}
}

func TestCommitConflictBudgetShared(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", putStatus: []int{409, 502, 502, 409}}
	client, _ := newTestClient(t, fake)

	_, err := client.Commit(context.Background(), CommitRequest{Path: testPath, Text: "x\n", BaseSHA: "abc"})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected last error ErrServer, got %v", err)
	}
	if fake.puts != 3 {
		t.Fatalf("expected conflict and server errors to share a budget of 2 retries, got %d PUTs", fake.puts)
	}

	fake = &fakeGitHub{sha: "abc", putStatus: []int{409, 409, 409, 409}}
	client, _ = newTestClient(t, fake)
	_, err = client.Commit(context.Background(), CommitRequest{Path: testPath, Text: "x\n", BaseSHA: "abc"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if fake.puts != 3 || fake.gets != 2 {
		t.Fatalf("expected 3 PUTs and 2 refetches, got %d/%d", fake.puts, fake.gets)
	}
}

func TestCommitClientErrorNotRetried(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", putStatus: []int{422}}
	client, _ := newTestClient(t, fake)

	_, err := client.Commit(context.Background(), CommitRequest{Path: testPath, Text: "x\n", BaseSHA: "abc"})
	if !errors.Is(err, ErrClient) {
		t.Fatalf("expected ErrClient, got %v", err)
	}
	if fake.puts != 1 || fake.gets != 0 {
		t.Fatalf("expected a single PUT and no refetch, got %d/%d", fake.puts, fake.gets)
	}
}

func TestCommitRefetchFailure(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", putStatus: []int{409}, getStatus: []int{403}}
	client, _ := newTestClient(t, fake)

	_, err := client.Commit(context.Background(), CommitRequest{Path: testPath, Text: "x\n", BaseSHA: "abc"})
	if !errors.Is(err, ErrClient) {
		t.Fatalf("expected refetch error to surface, got %v", err)
	}
	if !strings.Contains(err.Error(), "refetch") {
		t.Fatalf("expected refetch context in %q", err.Error())
	}
}

func TestCommitRefetchRetriesServerErrors(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", putStatus: []int{409}, getStatus: []int{502}}
	client, rec := newTestClient(t, fake)

	_, err := client.Commit(context.Background(), CommitRequest{Path: testPath, Text: "x\n", BaseSHA: "old"})
	if err != nil {
		t.Fatalf("expected refetch to recover, got %v", err)
	}
	if fake.gets != 2 || fake.puts != 2 {
		t.Fatalf("expected 2 GETs and 2 PUTs, got %d/%d", fake.gets, fake.puts)
	}
	if rec.errors["fetch"] != 1 {
		t.Fatalf("expected the failed refetch to be counted, got %+v", rec.errors)
	}
}

type gatedHandler struct {
	next    http.Handler
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-r.Context().Done():
		return
	}
	g.next.ServeHTTP(w, r)
}

func TestFetchSharedSurvivesCallerCancellation(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", text: "DOMAIN,foo.com\n"}
	gate := &gatedHandler{next: fake, started: make(chan struct{}), release: make(chan struct{})}
	srv := httptest.NewServer(gate)
	t.Cleanup(srv.Close)
	defer close(gate.release)
	client := New(Options{BaseURL: srv.URL, Owner: "acme", Repo: "rules", Branch: "main", MaxRetries: 2})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := client.Fetch(ctxA, testPath)
		errA <- err
	}()
	<-gate.started

	type result struct {
		file File
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		f, err := client.Fetch(context.Background(), testPath)
		resB <- result{f, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see its own error, got %v", err)
	}
	select {
	case res := <-resB:
		t.Fatalf("expected the other caller to keep waiting, got %+v", res)
	case <-time.After(20 * time.Millisecond):
	}

	gate.release <- struct{}{}
	res := <-resB
	if res.err != nil {
		t.Fatalf("expected the other caller to succeed, got %v", res.err)
	}
	if res.file.SHA != "abc" {
		t.Fatalf("unexpected file %+v", res.file)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.gets != 1 {
		t.Fatalf("expected one shared GET, got %d", fake.gets)
	}
}

func TestCommitHonoursCancellationBetweenAttempts(t *testing.T) {
	fake := &fakeGitHub{sha: "abc", putStatus: []int{500}}
	client, _ := newTestClient(t, fake)
	client.opts.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Commit(ctx, CommitRequest{Path: testPath, Text: "x\n", BaseSHA: "abc"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRecentCommits(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/rules/commits" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		writeJSON(w, http.StatusOK, []map[string]any{
			{
				"sha":      "c1",
				"html_url": "https://github.test/commit/c1",
				"commit": map[string]any{
					"message": "Add rule: DOMAIN,a.com by @alice\n\nbody",
					"author":  map[string]any{"name": "Rulekeeper Bot", "date": "2025-01-02T03:04:05Z"},
				},
				"author": map[string]any{"login": "alice"},
			},
			{
				"sha":    "c2",
				"commit": map[string]any{"message": "manual edit", "author": map[string]any{"name": "Bob", "date": "2025-01-01T00:00:00Z"}},
				"author": nil,
			},
		})
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Owner: "acme", Repo: "rules", Branch: "main"})
	commits, err := client.RecentCommits(context.Background(), testPath, 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(query, "per_page=5") || !strings.Contains(query, "sha=main") || !strings.Contains(query, "path=lists%2Fproxy.list") {
		t.Fatalf("unexpected query %q", query)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].Message != "Add rule: DOMAIN,a.com by @alice" || commits[0].Author != "alice" {
		t.Fatalf("unexpected first commit %+v", commits[0])
	}
	if commits[1].Author != "Bob" || !commits[1].Date.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected second commit %+v", commits[1])
	}
}
