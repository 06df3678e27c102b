package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"osschat/config"
	"osschat/internal/chat"
	"osschat/internal/provider"
	"osschat/internal/store"
)

type nullPersister struct{}

func (nullPersister) Load(context.Context) (*store.Snapshot, error) { return nil, nil }
func (nullPersister) Save(context.Context, *store.Snapshot) error   { return nil }

type stubStream struct {
	fragments []provider.Fragment
	pos       int
}

func (s *stubStream) Recv() (provider.Fragment, error) {
	if s.pos >= len(s.fragments) {
		return provider.Fragment{}, io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *stubStream) Close() error { return nil }

type stubClient struct {
	answer    string
	chatErr   error
	fragments []provider.Fragment
}

func (s *stubClient) Probe(context.Context, string) error { return nil }

func (s *stubClient) Chat(context.Context, string, []provider.Message, provider.Options) (provider.ChatResult, error) {
	if s.chatErr != nil {
		return provider.ChatResult{}, s.chatErr
	}
	return provider.ChatResult{Content: s.answer}, nil
}

func (s *stubClient) ChatStream(context.Context, string, []provider.Message, provider.Options) (provider.Stream, error) {
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &stubStream{fragments: s.fragments}, nil
}

func (s *stubClient) Complete(context.Context, string, string, provider.Options) (string, error) {
	return "", errors.New("completion endpoint unavailable")
}

func (s *stubClient) CompleteStream(context.Context, string, string, provider.Options) (provider.Stream, error) {
	return nil, errors.New("completion endpoint unavailable")
}

func newTestRouter(t *testing.T, cfg *config.Config, client provider.Client) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	st, err := store.Open(context.Background(), nullPersister{}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	selector := provider.NewSelector(client, []string{"test-model"}, "", logger)
	executor := chat.NewExecutor(st, client, selector, provider.Options{MaxTokens: 50}, logger)

	router := gin.New()
	NewConversationHandler(st, logger).RegisterRoutes(router)
	NewChatHandler(cfg, st, executor, logger).RegisterRoutes(router)
	return router, st
}

func configuredTestConfig() *config.Config {
	return &config.Config{HFToken: "hf_test_token"}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestListStartsWithOneActiveConversation(t *testing.T) {
	router, st := newTestRouter(t, configuredTestConfig(), &stubClient{})

	w := doJSON(t, router, http.MethodGet, "/api/conversations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	body := decodeBody(t, w)
	convs := body["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if body["active"] != st.ActiveID() {
		t.Fatalf("active = %v, want %s", body["active"], st.ActiveID())
	}
	if body["reasoning"] != "Medium" {
		t.Fatalf("reasoning = %v, want Medium", body["reasoning"])
	}
}

func TestCreateConversationBecomesActive(t *testing.T) {
	router, st := newTestRouter(t, configuredTestConfig(), &stubClient{})
	before := st.ActiveID()

	w := doJSON(t, router, http.MethodPost, "/api/conversations", map[string]string{"title": "Project notes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if st.ActiveID() == before {
		t.Fatal("new conversation should have become active")
	}
	if conv := st.Active(); conv.Title != "Project notes" {
		t.Fatalf("title = %q", conv.Title)
	}
}

func TestGetUnknownConversation(t *testing.T) {
	router, _ := newTestRouter(t, configuredTestConfig(), &stubClient{})

	w := doJSON(t, router, http.MethodGet, "/api/conversations/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSelectRenameClearDelete(t *testing.T) {
	router, st := newTestRouter(t, configuredTestConfig(), &stubClient{})
	first := st.ActiveID()

	doJSON(t, router, http.MethodPost, "/api/conversations", map[string]string{"title": "Second"})
	second := st.ActiveID()

	if w := doJSON(t, router, http.MethodPost, "/api/conversations/"+first+"/select", nil); w.Code != http.StatusOK {
		t.Fatalf("select: %d", w.Code)
	}
	if st.ActiveID() != first {
		t.Fatal("select did not switch the active conversation")
	}

	if w := doJSON(t, router, http.MethodPost, "/api/conversations/"+first+"/rename", map[string]string{"title": "Renamed"}); w.Code != http.StatusOK {
		t.Fatalf("rename: %d", w.Code)
	}
	if conv, _ := st.Get(first); conv.Title != "Renamed" {
		t.Fatalf("title = %q", conv.Title)
	}

	if w := doJSON(t, router, http.MethodPost, "/api/conversations/"+first+"/clear", nil); w.Code != http.StatusOK {
		t.Fatalf("clear: %d", w.Code)
	}

	if w := doJSON(t, router, http.MethodDelete, "/api/conversations/"+first, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if _, err := st.Get(first); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("conversation still present after delete")
	}
	if st.ActiveID() != second {
		t.Fatal("active must fall over to a remaining conversation")
	}

	if w := doJSON(t, router, http.MethodDelete, "/api/conversations/"+first, nil); w.Code != http.StatusNotFound {
		t.Fatalf("double delete: %d, want 404", w.Code)
	}
}

func TestSetReasoningLevel(t *testing.T) {
	router, st := newTestRouter(t, configuredTestConfig(), &stubClient{})

	if w := doJSON(t, router, http.MethodPost, "/api/settings/reasoning", map[string]string{"level": "High"}); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if st.ReasoningLevel() != store.ReasoningHigh {
		t.Fatalf("level = %s", st.ReasoningLevel())
	}

	if w := doJSON(t, router, http.MethodPost, "/api/settings/reasoning", map[string]string{"level": "extreme"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid level: %d, want 400", w.Code)
	}
	if st.ReasoningLevel() != store.ReasoningHigh {
		t.Fatal("invalid level must not change the setting")
	}
}

func TestSendRequiresMessage(t *testing.T) {
	router, _ := newTestRouter(t, configuredTestConfig(), &stubClient{answer: "ok"})

	w := doJSON(t, router, http.MethodPost, "/api/chat/send", map[string]string{"message": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSendWithoutCredential(t *testing.T) {
	router, _ := newTestRouter(t, &config.Config{}, &stubClient{answer: "ok"})

	w := doJSON(t, router, http.MethodPost, "/api/chat/send", map[string]string{"message": "hello"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decodeBody(t, w)
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "HF_TOKEN") {
		t.Fatalf("detail must name the missing variable: %v", body)
	}
}

func TestSendSuccess(t *testing.T) {
	router, st := newTestRouter(t, configuredTestConfig(), &stubClient{answer: "the answer"})

	w := doJSON(t, router, http.MethodPost, "/api/chat/send", map[string]string{"message": "a question"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["answer"] != "the answer" {
		t.Fatalf("answer = %v", body["answer"])
	}

	conv := st.Active()
	if len(conv.Turns) != 1 || conv.Turns[0].Answer != "the answer" {
		t.Fatalf("transcript not updated: %+v", conv.Turns)
	}
}

func TestSendUnknownConversation(t *testing.T) {
	router, _ := newTestRouter(t, configuredTestConfig(), &stubClient{answer: "ok"})

	w := doJSON(t, router, http.MethodPost, "/api/chat/send", map[string]string{
		"conversation_id": "missing",
		"message":         "hello",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSendReportsGenerationFailure(t *testing.T) {
	client := &stubClient{chatErr: errors.New("model exploded")}
	router, st := newTestRouter(t, configuredTestConfig(), client)

	w := doJSON(t, router, http.MethodPost, "/api/chat/send", map[string]string{"message": "doomed"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	conv := st.Active()
	if len(conv.Turns) != 1 || !conv.Turns[0].Failed {
		t.Fatalf("failed turn not recorded: %+v", conv.Turns)
	}
}

func TestWebsocketStreamsPartialsThenDone(t *testing.T) {
	client := &stubClient{fragments: []provider.Fragment{
		{Content: "Par"},
		{Content: "tial"},
	}}
	router, _ := newTestRouter(t, configuredTestConfig(), client)

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": "stream it"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	type frame struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Error   string `json:"error"`
	}

	var frames []frame
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v (frames so far: %+v)", err, frames)
		}
		frames = append(frames, f)
		if f.Type == "done" || f.Type == "error" {
			break
		}
	}

	if len(frames) != 3 {
		t.Fatalf("got %d frames %+v, want 2 partials and a done", len(frames), frames)
	}
	if frames[0].Content != "Par" || frames[1].Content != "Partial" {
		t.Fatalf("partials must carry the full text so far: %+v", frames)
	}
	last := frames[len(frames)-1]
	if last.Type != "done" || last.Content != "Partial" {
		t.Fatalf("bad final frame: %+v", last)
	}
}

func TestWebsocketRejectsEmptyMessage(t *testing.T) {
	router, _ := newTestRouter(t, configuredTestConfig(), &stubClient{})

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": ""}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var f struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != "error" || f.Error == "" {
		t.Fatalf("bad frame: %+v", f)
	}
}
