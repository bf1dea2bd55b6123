package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"folio/internal/feed"
	"folio/internal/models"
	"folio/internal/services"
	"folio/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type testEnv struct {
	store    *store.MemoryStore
	hub      *feed.Hub
	comments *services.CommentService
	votes    *services.VoteService
	engine   *gin.Engine
}

func newTestEnv(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := feed.NewHub()
	mem := store.NewMemoryStore(hub)
	if st == nil {
		st = mem
	}
	comments, err := services.NewCommentService(st, services.CommentOptions{AutoApprove: true}, nil)
	if err != nil {
		t.Fatalf("NewCommentService: %v", err)
	}
	votes := services.NewVoteService(st, services.WithFetchRetry(1, 0))

	r := gin.New()
	ch := NewCommentHandler(comments)
	vh := NewVoteHandler(votes)
	eh := NewEventsHandler(comments, hub)
	r.GET("/healthz", Healthz)
	r.GET("/api/comments", ch.List)
	r.POST("/api/comments", ch.Create)
	r.POST("/api/comments/:id/vote", vh.Vote)
	r.GET("/api/comments/:id/events", eh.Stream)

	return &testEnv{store: mem, hub: hub, comments: comments, votes: votes, engine: r}
}

func (e *testEnv) seed(t *testing.T, likes int) *models.Comment {
	t.Helper()
	c := &models.Comment{
		PostID: "post-1", Name: "Ada", Email: "ada@example.com", Body: "hello",
		Approved: true, Likes: models.IntPtr(likes), Upvotes: models.IntPtr(0),
	}
	if err := e.store.Create(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestCreateComment(t *testing.T) {
	env := newTestEnv(t, nil)
	parent := env.seed(t, 0)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"name":"Bob","email":"bob@example.com","comment":"Hi","postId":"post-1"}`, http.StatusCreated},
		{"reply", `{"name":"Bob","email":"bob@example.com","comment":"Hi","postId":"post-1","parentId":"` + parent.ID + `"}`, http.StatusCreated},
		{"missing name", `{"email":"bob@example.com","comment":"Hi","postId":"post-1"}`, http.StatusBadRequest},
		{"bad email", `{"name":"Bob","email":"bob","comment":"Hi","postId":"post-1"}`, http.StatusBadRequest},
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"unknown parent", `{"name":"Bob","email":"bob@example.com","comment":"Hi","postId":"post-1","parentId":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/comments", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusCreated {
				return
			}
			var resp struct {
				Message string         `json:"message"`
				Comment models.Comment `json:"comment"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Message == "" || resp.Comment.ID == "" {
				t.Errorf("unexpected response %s", w.Body.String())
			}
			if strings.Contains(w.Body.String(), "bob@example.com") {
				t.Error("email must not be echoed back")
			}
		})
	}
}

func TestListComments(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, 2)

	if w := env.do(http.MethodGet, "/api/comments", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing postId: status = %d", w.Code)
	}

	w := env.do(http.MethodGet, "/api/comments?postId=post-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []models.Comment
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || *list[0].Likes != 2 || list[0].HTML == "" {
		t.Errorf("unexpected list %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "ada@example.com") {
		t.Error("email must not be listed")
	}
}

// brokenStore fails every lookup.
type brokenStore struct{ store.Store }

func (brokenStore) Get(context.Context, string) (*models.Comment, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestVote(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.seed(t, 4)

	tests := []struct {
		name  string
		id    string
		body  string
		want  int
		likes int
	}{
		{"like add", c.ID, `{"type":"like","action":"add"}`, http.StatusOK, 5},
		{"like remove", c.ID, `{"type":"like","action":"remove"}`, http.StatusOK, 4},
		{"dislike rejected", c.ID, `{"type":"dislike","action":"add"}`, http.StatusBadRequest, 4},
		{"missing action", c.ID, `{"type":"like"}`, http.StatusBadRequest, 4},
		{"unknown comment", "missing", `{"type":"like","action":"add"}`, http.StatusNotFound, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/comments/"+tt.id+"/vote", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			got, _ := env.store.Get(context.Background(), c.ID)
			if *got.Likes != tt.likes {
				t.Errorf("likes = %d, want %d", *got.Likes, tt.likes)
			}
			if tt.want == http.StatusOK {
				var updated models.Comment
				_ = json.Unmarshal(w.Body.Bytes(), &updated)
				if updated.Rev != got.Rev || *updated.Likes != tt.likes {
					t.Errorf("response does not carry the committed record: %s", w.Body.String())
				}
			}
		})
	}
}

func TestVoteStoreFailure(t *testing.T) {
	env := newTestEnv(t, brokenStore{Store: store.NewMemoryStore(nil)})

	w := env.do(http.MethodPost, "/api/comments/abc/vote", `{"type":"upvote","action":"add"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != "Internal server error" || body["details"] == "" {
		t.Errorf("unexpected body %v", body)
	}
	if strings.Contains(body["details"], "connection refused") {
		t.Error("store internals leaked into the response")
	}
}

func readEvents(t *testing.T, resp *http.Response) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Bytes()
			if bytes.HasPrefix(line, []byte("data:")) {
				out <- append([]byte(nil), bytes.TrimSpace(line[len("data:"):])...)
			}
		}
	}()
	return out
}

func nextLikes(t *testing.T, events <-chan []byte) int {
	t.Helper()
	select {
	case data, ok := <-events:
		if !ok {
			t.Fatal("stream ended early")
		}
		var c models.Comment
		if err := json.Unmarshal(data, &c); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		if c.Likes == nil {
			t.Fatalf("event without likes: %s", data)
		}
		return *c.Likes
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return 0
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.seed(t, 3)

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/comments/"+c.ID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	events := readEvents(t, resp)
	if got := nextLikes(t, events); got != 3 {
		t.Fatalf("snapshot likes = %d, want 3", got)
	}

	if _, err := env.votes.Vote(context.Background(), c.ID, models.VoteLike, models.ActionAdd); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := nextLikes(t, events); got != 4 {
		t.Fatalf("pushed likes = %d, want 4", got)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers(c.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventsStreamIgnoresOtherTransitions(t *testing.T) {
	env := newTestEnv(t, nil)

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/comments/later/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	events := readEvents(t, resp)

	// 订阅建立后才能确认发布会被收到
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("later") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no subscriber registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = env.hub.Publish(ctx, feed.Event{Transition: feed.TransitionAppear, DocumentID: "later", Result: &models.Comment{ID: "later", Likes: models.IntPtr(1)}})
	_ = env.hub.Publish(ctx, feed.Event{Transition: feed.TransitionUpdate, DocumentID: "later", Result: &models.Comment{ID: "later", Likes: models.IntPtr(2)}})

	if got := nextLikes(t, events); got != 2 {
		t.Errorf("first delivered likes = %d, want 2 (appear must be skipped)", got)
	}
}

func TestEventsStreamDropsOlderVersions(t *testing.T) {
	tests := []struct {
		name     string
		seed     bool
		versions []int64
		want     []int
	}{
		{"out of order without snapshot", false, []int64{3, 2, 4}, []int{30, 40}},
		{"not newer than snapshot", true, []int64{1, 3, 2, 5}, []int{3, 30, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			id := "later"
			if tt.seed {
				id = env.seed(t, 3).ID
			}

			srv := httptest.NewServer(env.engine)
			defer srv.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/comments/"+id+"/events", nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			defer resp.Body.Close()
			events := readEvents(t, resp)

			want := tt.want
			if tt.seed {
				if got := nextLikes(t, events); got != want[0] {
					t.Fatalf("snapshot likes = %d, want %d", got, want[0])
				}
				want = want[1:]
			}

			deadline := time.Now().Add(2 * time.Second)
			for env.hub.Subscribers(id) == 0 {
				if time.Now().After(deadline) {
					t.Fatal("no subscriber registered")
				}
				time.Sleep(10 * time.Millisecond)
			}

			for _, v := range tt.versions {
				_ = env.hub.Publish(ctx, feed.Event{
					Transition: feed.TransitionUpdate,
					DocumentID: id,
					Result:     &models.Comment{ID: id, Version: v, Likes: models.IntPtr(int(v) * 10)},
				})
			}
			for i, w := range want {
				if got := nextLikes(t, events); got != w {
					t.Fatalf("event %d likes = %d, want %d", i, got, w)
				}
			}
		})
	}
}
