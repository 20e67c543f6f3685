package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/session"
	"github.com/hyperifyio/deepresearch/internal/store"
)

type memStore struct {
	sessions map[string]*session.Session
	history  map[string][]session.HistoryEntry
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*session.Session),
		history:  make(map[string][]session.HistoryEntry),
	}
}

func (m *memStore) Save(_ context.Context, sess *session.Session) error {
	if sess.SessionID == "" {
		m.nextID++
		sess.SessionID = fmt.Sprintf("sess-%d", m.nextID)
	}
	cp := *sess
	m.sessions[sess.SessionID] = &cp
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*session.Session, bool, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return nil, false, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	cp := *sess
	return &cp, true, nil
}

func (m *memStore) List(_ context.Context, _ string) ([]session.Summary, error) {
	var out []session.Summary
	for _, sess := range m.sessions {
		out = append(out, session.Summary{
			SessionID: sess.SessionID,
			UserQuery: sess.UserQuery,
			Status:    sess.Status,
			StartTime: sess.CreatedAt,
			EndTime:   sess.EndTime,
		})
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	delete(m.sessions, id)
	delete(m.history, id)
	return nil
}

func (m *memStore) Resume(ctx context.Context, id string) (*session.Session, error) {
	sess, _, err := m.Load(ctx, id)
	return sess, err
}

func (m *memStore) History(_ context.Context, id string) ([]session.HistoryEntry, error) {
	if _, ok := m.sessions[id]; !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return m.history[id], nil
}

func (m *memStore) Rollback(_ context.Context, id string, iteration int) (*session.Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	for i := len(m.history[id]) - 1; i >= 0; i-- {
		if m.history[id][i].Iteration == iteration {
			sess.AggregatedData = m.history[id][i].Data.Clone()
			sess.CurrentIteration = iteration
			sess.Status = session.StatusRunning
			sess.EndTime = nil
			return sess, nil
		}
	}
	return nil, fmt.Errorf("iteration %d: %w", iteration, store.ErrIterationNotFound)
}

type scriptedRunner struct {
	chunks []string
	ran    bool
	report string
}

func (r *scriptedRunner) Run(_ context.Context, sess *session.Session, _ message.List) <-chan string {
	r.ran = true
	out := make(chan string, len(r.chunks)+1)
	for _, c := range r.chunks {
		out <- c
	}
	if r.report != "" {
		sess.AggregatedData.FinalReportContent = r.report
		sess.Status = session.StatusCompleted
	}
	close(out)
	return out
}

func newTestServer(t *testing.T, st SessionStore, runner Runner) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(st, runner).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedRunner{})
	for _, path := range []string{"/", "/health", "/healthcheck"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
			t.Fatalf("%s: status=%d body=%v", path, resp.StatusCode, body)
		}
	}
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedRunner{})
	for _, path := range []string{"/models", "/v1/models"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var body struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		if len(body.Data) != 1 || body.Data[0].ID != "deep_researcher" {
			t.Fatalf("%s: unexpected models %+v", path, body)
		}
	}
}

func postChat(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST chat completions: %v", err)
	}
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}

func TestChatCompletions_InvalidMessagesShape(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedRunner{})
	resp := postChat(t, srv, `{"messages": 42}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	body := readAll(t, resp)
	if !strings.Contains(body, "error") {
		t.Fatalf("expected error body, got %q", body)
	}
}

func TestChatCompletions_MissingUserQuery(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st, &scriptedRunner{})
	resp := postChat(t, srv, `{"messages":[{"role":"user","content":""}]}`)
	body := readAll(t, resp)

	if !strings.Contains(body, "Error: User query is missing or empty.") {
		t.Fatalf("missing error chunk: %q", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Fatalf("stream must end with done sentinel: %q", body)
	}
	if len(st.sessions) != 0 {
		t.Fatalf("no session row should exist, got %d", len(st.sessions))
	}
}

func TestChatCompletions_StreamShape(t *testing.T) {
	st := newMemStore()
	runner := &scriptedRunner{chunks: []string{"<think>planning</think>", "final report"}}
	srv := newTestServer(t, st, runner)

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"What is X?"}],"max_iterations":1}`)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	body := readAll(t, resp)

	events := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(events) < 3 {
		t.Fatalf("too few events: %q", body)
	}
	if !strings.HasPrefix(events[0], "data: SESSION_ID:") {
		t.Fatalf("first event must announce the session id: %q", events[0])
	}
	if events[len(events)-1] != "data: [DONE]" {
		t.Fatalf("last event must be the done sentinel: %q", events[len(events)-1])
	}
	if !strings.Contains(body, `"content":"<think>planning</think>"`) {
		t.Fatalf("think chunk not framed as delta: %q", body)
	}
	if !runner.ran {
		t.Fatal("runner never invoked")
	}
	if len(st.sessions) != 1 {
		t.Fatalf("expected one session row, got %d", len(st.sessions))
	}
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	st := newMemStore()
	runner := &scriptedRunner{chunks: []string{"progress"}, report: "the full report body"}
	srv := newTestServer(t, st, runner)

	resp := postChat(t, srv, `{"messages":{"role":"user","content":"topic"},"stream":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if body.Object != "chat.completion" {
		t.Fatalf("object = %q", body.Object)
	}
	if len(body.Choices) != 1 || body.Choices[0].Message.Content != "the full report body" {
		t.Fatalf("unexpected choices: %+v", body.Choices)
	}
	if body.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish_reason = %q", body.Choices[0].FinishReason)
	}
}

func TestSessionCRUD(t *testing.T) {
	st := newMemStore()
	sess := session.New("what is x", "", session.Settings{MaxIterations: 2}, time.Now().UTC())
	if err := st.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	srv := newTestServer(t, st, &scriptedRunner{})

	// List includes the query text.
	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	var list struct {
		Sessions  []session.Summary `json:"sessions"`
		StartTime string            `json:"start_time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list.Sessions) != 1 || list.Sessions[0].UserQuery != "what is x" {
		t.Fatalf("unexpected listing: %+v", list)
	}
	if list.StartTime == "" {
		t.Fatal("start_time missing")
	}

	// Get full session.
	resp, err = http.Get(srv.URL + "/sessions/" + sess.SessionID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Delete, then 404 on re-get.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+sess.SessionID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/sessions/" + sess.SessionID)
	if err != nil {
		t.Fatalf("GET deleted session: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRollbackEndpoint(t *testing.T) {
	st := newMemStore()
	sess := session.New("topic", "", session.Settings{MaxIterations: 2}, time.Now().UTC())
	sess.Status = session.StatusCompleted
	if err := st.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	st.history[sess.SessionID] = []session.HistoryEntry{
		{Iteration: 0, Timestamp: time.Now().UTC(), Data: session.AggregatedData{LastPlan: "early"}},
	}
	srv := newTestServer(t, st, &scriptedRunner{})

	resp, err := http.Post(srv.URL+"/sessions/"+sess.SessionID+"/rollback/0", "application/json", nil)
	if err != nil {
		t.Fatalf("POST rollback: %v", err)
	}
	var body struct {
		Status    string `json:"status"`
		Iteration int    `json:"iteration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode rollback: %v", err)
	}
	resp.Body.Close()
	if body.Status != "rolled back" || body.Iteration != 0 {
		t.Fatalf("unexpected rollback body: %+v", body)
	}
	if got := st.sessions[sess.SessionID]; got.Status != session.StatusRunning || got.CurrentIteration != 0 {
		t.Fatalf("rollback did not revert session: %+v", got)
	}

	// Missing iteration is a 400.
	resp, err = http.Post(srv.URL+"/sessions/"+sess.SessionID+"/rollback/7", "application/json", nil)
	if err != nil {
		t.Fatalf("POST rollback missing: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHistoryEndpoint(t *testing.T) {
	st := newMemStore()
	sess := session.New("topic", "", session.Settings{}, time.Now().UTC())
	if err := st.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	st.history[sess.SessionID] = []session.HistoryEntry{
		{Iteration: 0, Timestamp: time.Now().UTC()},
		{Iteration: 1, Timestamp: time.Now().UTC()},
	}
	srv := newTestServer(t, st, &scriptedRunner{})

	resp, err := http.Get(srv.URL + "/sessions/" + sess.SessionID + "/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	var body struct {
		History []session.HistoryEntry `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	resp.Body.Close()
	if len(body.History) != 2 {
		t.Fatalf("history length = %d", len(body.History))
	}

	resp, err = http.Get(srv.URL + "/sessions/missing/history")
	if err != nil {
		t.Fatalf("GET missing history: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResumeEndpoint(t *testing.T) {
	st := newMemStore()
	sess := session.New("resumable", "", session.Settings{}, time.Now().UTC())
	sess.Status = session.StatusInterrupted
	if err := st.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	srv := newTestServer(t, st, &scriptedRunner{})

	resp, err := http.Post(srv.URL+"/sessions/"+sess.SessionID+"/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST resume: %v", err)
	}
	var got session.Session
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode resume: %v", err)
	}
	resp.Body.Close()
	if got.UserQuery != "resumable" {
		t.Fatalf("resume returned wrong session: %+v", got)
	}
}
