package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/service"
	"kb-messenger-bot/pkg/tasks"
	"kb-messenger-bot/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type echoCall struct {
	recipient string
	metadata  string
}

type fakeBot struct {
	mu     sync.Mutex
	events []model.InboundEvent
	echoes []echoCall
	reply  string
}

func (b *fakeBot) HandleMessage(ctx context.Context, ev model.InboundEvent, d service.Dispatcher) service.Outcome {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	_ = d.SendTyping(ctx, ev.SenderID)
	_ = d.Send(ctx, ev.SenderID, model.TextMessage(b.reply))
	return service.OutcomeExact
}

func (b *fakeBot) HandleEcho(_ context.Context, recipientID, metadata string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.echoes = append(b.echoes, echoCall{recipientID, metadata})
}

// syncQueue 在提交时直接执行任务。
type syncQueue struct {
	keys []string
	err  error
}

func (q *syncQueue) Submit(key string, task tasks.Task) error {
	if q.err != nil {
		return q.err
	}
	q.keys = append(q.keys, key)
	task(context.Background())
	return nil
}

type nopDispatcher struct{}

func (nopDispatcher) Send(context.Context, string, model.OutboundMessage) error { return nil }
func (nopDispatcher) SendTyping(context.Context, string) error                  { return nil }

func newWebhookRouter(bot *fakeBot, q Submitter) *gin.Engine {
	h := NewWebhookHandler(bot, q, nopDispatcher{}, "verify-me")
	r := gin.New()
	r.GET("/", Health)
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	return r
}

func TestWebhookVerify(t *testing.T) {
	r := newWebhookRouter(&fakeBot{}, &syncQueue{})

	cases := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{"ok", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden, ""},
		{"missing params", "", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil))
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestWebhookReceive(t *testing.T) {
	bot := &fakeBot{}
	q := &syncQueue{}
	r := newWebhookRouter(bot, q)

	body := `{
	  "object": "page",
	  "entry": [{
	    "id": "PAGE", "time": 1,
	    "messaging": [
	      {"sender": {"id": "u1"}, "recipient": {"id": "PAGE"}, "message": {"mid": "m1", "text": "หอใน"}},
	      {"sender": {"id": "PAGE"}, "recipient": {"id": "u2"}, "message": {"mid": "m2", "text": "สวัสดี", "is_echo": true}},
	      {"sender": {"id": "PAGE"}, "recipient": {"id": "u1"}, "message": {"mid": "m3", "text": "auto", "is_echo": true, "metadata": "bot_reply"}},
	      {"sender": {"id": "u3"}, "recipient": {"id": "PAGE"}, "message": {"mid": "m4"}},
	      {"sender": {"id": "u4"}, "recipient": {"id": "PAGE"}}
	    ]
	  }]
	}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EVENT_RECEIVED", w.Body.String())
	assert.Equal(t, []string{"u1"}, q.keys)
	assert.Equal(t, []model.InboundEvent{{SenderID: "u1", Text: "หอใน"}}, bot.events)
	assert.Equal(t, []echoCall{{"u2", ""}, {"u1", "bot_reply"}}, bot.echoes)
}

func TestWebhookReceive_RejectsNonPage(t *testing.T) {
	bot := &fakeBot{}
	r := newWebhookRouter(bot, &syncQueue{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":"instagram","entry":[]}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, bot.events)
}

func TestWebhookReceive_QueueErrorStillAcknowledges(t *testing.T) {
	bot := &fakeBot{}
	r := newWebhookRouter(bot, &syncQueue{err: tasks.ErrQueueFull})

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"text":"hi"}}]}]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, bot.events)
}

func TestHealth(t *testing.T) {
	r := newWebhookRouter(&fakeBot{}, &syncQueue{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConsole(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1)
	bot := &fakeBot{reply: "ตอบจากบอท"}
	r := gin.New()
	r.GET("/console/:token", NewConsoleHandler(bot, jwtManager, "ADMIN", "console:").Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/console/"

	t.Run("rejects invalid token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bad", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects non admin", func(t *testing.T) {
		tok, err := jwtManager.GenerateToken("guest", "USER")
		require.NoError(t, err)
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+tok, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("round trip", func(t *testing.T) {
		tok, err := jwtManager.GenerateToken("root", "ADMIN")
		require.NoError(t, err)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+tok, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"role":"user","content":"หอใน"}`)))

		var typing map[string]any
		require.NoError(t, conn.ReadJSON(&typing))
		assert.Equal(t, "typing", typing["type"])

		var reply model.ChatMessage
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "bot", reply.Role)
		assert.Equal(t, "ตอบจากบอท", reply.Content)

		var done map[string]any
		require.NoError(t, conn.ReadJSON(&done))
		assert.Equal(t, "completion", done["type"])
		assert.Equal(t, string(service.OutcomeExact), done["outcome"])

		bot.mu.Lock()
		defer bot.mu.Unlock()
		require.Len(t, bot.events, 1)
		assert.Equal(t, model.InboundEvent{SenderID: "console:root", Text: "หอใน"}, bot.events[0])
	})
}

type fakeAdmin struct {
	tookOver []string
	refresh  []string
}

func (f *fakeAdmin) Login(username, password string) (string, error) {
	if username == "admin" && password == "pw" {
		return "tok", nil
	}
	return "", service.ErrInvalidCredentials
}

func (f *fakeAdmin) HandoverStatus(_ context.Context, psid string) model.HandoverStatus {
	return model.HandoverStatus{UserID: psid, Mode: model.ModeBot}
}

func (f *fakeAdmin) TakeOver(_ context.Context, psid string) model.HandoverStatus {
	f.tookOver = append(f.tookOver, psid)
	exp := time.Now().Add(time.Minute)
	return model.HandoverStatus{UserID: psid, Mode: model.ModeHuman, ExpiresAt: &exp}
}

func (f *fakeAdmin) RefreshKnowledge(_ context.Context, category string) int {
	f.refresh = append(f.refresh, category)
	return 7
}

func (f *fakeAdmin) SearchKnowledge(_ context.Context, _, query string) service.SearchResult {
	return service.SearchResult{
		Exact:  []model.KnowledgeEntry{{Question: query}},
		Ranked: []service.RankedEntry{},
	}
}

func (f *fakeAdmin) ListUnanswered(context.Context, int) ([]model.UnansweredQuery, error) {
	return nil, service.ErrUnansweredUnavailable
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func TestAdminHandler(t *testing.T) {
	admin := &fakeAdmin{}
	h := NewAdminHandler(admin)
	r := gin.New()
	r.POST("/login", h.Login)
	r.GET("/handover/:psid", h.GetHandover)
	r.POST("/handover/:psid", h.TakeOver)
	r.POST("/knowledge/:category/refresh", h.RefreshKnowledge)
	r.GET("/knowledge/:category/search", h.SearchKnowledge)
	r.GET("/unanswered", h.ListUnanswered)

	do := func(method, path, body string) (int, envelope) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		var env envelope
		_ = json.Unmarshal(w.Body.Bytes(), &env)
		return w.Code, env
	}

	code, env := do(http.MethodPost, "/login", `{"username":"admin","password":"pw"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"token":"tok"}`, string(env.Data))

	code, _ = do(http.MethodPost, "/login", `{"username":"admin","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(http.MethodPost, "/login", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(http.MethodGet, "/handover/u1", "")
	assert.Equal(t, http.StatusOK, code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, false, st["humanMode"])

	code, env = do(http.MethodPost, "/handover/u1", "")
	assert.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, true, st["humanMode"])
	assert.Equal(t, []string{"u1"}, admin.tookOver)

	code, env = do(http.MethodPost, "/knowledge/KnowledgeBase/refresh", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"category":"KnowledgeBase","entries":7}`, string(env.Data))

	code, _ = do(http.MethodGet, "/knowledge/KnowledgeBase/search", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = do(http.MethodGet, "/knowledge/KnowledgeBase/search?q=map", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"question":"map"`)

	code, _ = do(http.MethodGet, "/unanswered", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}
