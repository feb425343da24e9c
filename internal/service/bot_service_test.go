package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-messenger-bot/internal/handover"
	"kb-messenger-bot/internal/knowledge"
	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/pkg/llm"
)

func kbEntries() []model.KnowledgeEntry {
	rows := []model.KnowledgeRow{
		{Keyword: "หอใน", Question: "หอพักอยู่ไหน", Answer: "หอพักนักศึกษาอยู่ติดคณะค่ะ", Active: "TRUE"},
		{Keyword: "ที่ตั้งคณะ", Question: "คณะอยู่ที่ไหน", Answer: "ดู map ได้ที่ลิงก์นี้", Active: "TRUE", Type: "image", Media: "https://example.com/map.png"},
		{Keyword: "เมนู", Answer: "-", Active: "TRUE", Type: "menu", Media: `"[{""type"":""postback"",""title"":""ทุน"",""payload"":""FUND""]"`},
		{Keyword: "ว่างเปล่า", Answer: "-", Active: "TRUE"},
		{Keyword: "ความลับ", Answer: "ไม่ควรเห็น", Active: "FALSE"},
	}
	var out []model.KnowledgeEntry
	for _, r := range rows {
		out = append(out, knowledge.DecodeRow(r))
	}
	return out
}

type botFixture struct {
	svc     BotService
	loader  *fakeLoader
	tracker *handover.Tracker
	llm     *fakeLLM
	sink    *recordingSink
	d       *recordingDispatcher
	now     *time.Time
}

func newBotFixture(t *testing.T, mode string, withLLM bool) *botFixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	f := &botFixture{
		loader: &fakeLoader{entries: kbEntries()},
		llm:    &fakeLLM{},
		sink:   &recordingSink{},
		d:      &recordingDispatcher{},
		now:    &now,
	}
	f.tracker = handover.NewTracker(handover.NewMemoryStore(0, 0), 60*time.Second,
		handover.WithClock(func() time.Time { return *f.now }))

	var client llm.Client
	if withLLM {
		client = f.llm
	}
	f.svc = NewBotService(f.loader, f.tracker, client, f.sink, BotOptions{
		Category:   "KnowledgeBase",
		TopK:       5,
		AnswerMode: mode,
		Marker:     "bot_reply",
		Texts:      testTexts,
	})
	return f
}

func (f *botFixture) handle(text string) Outcome {
	return f.svc.HandleMessage(context.Background(), model.InboundEvent{SenderID: "u1", Text: text}, f.d)
}

func TestHandleMessage_ExactMatch(t *testing.T) {
	f := newBotFixture(t, "direct", true)

	assert.Equal(t, OutcomeExact, f.handle("หอในเป็นยังไงบ้าง"))
	assert.Equal(t, []string{"หอพักนักศึกษาอยู่ติดคณะค่ะ"}, f.d.texts())
	assert.Equal(t, 1, f.d.typing)
	assert.Zero(t, f.llm.expandCalls, "exact path never calls the model")
	assert.Empty(t, f.sink.records)
}

func TestHandleMessage_ExactImageSendsTextThenImage(t *testing.T) {
	f := newBotFixture(t, "direct", false)

	assert.Equal(t, OutcomeExact, f.handle("ที่ตั้งคณะอยู่ไหน"))
	require.Len(t, f.d.sent, 2)
	assert.Equal(t, "ดู map ได้ที่ลิงก์นี้", f.d.sent[0].Text)
	require.NotNil(t, f.d.sent[1].Attachment)
	assert.Equal(t, "image", f.d.sent[1].Attachment.Type)
}

func TestHandleMessage_MalformedMenuSendsApology(t *testing.T) {
	f := newBotFixture(t, "direct", true)

	assert.Equal(t, OutcomeExact, f.handle("ขอดูเมนู"))
	assert.Equal(t, []string{testTexts.MenuMalformed}, f.d.texts())
	assert.Empty(t, f.sink.records)
}

func TestHandleMessage_ExactMatchWithoutContent(t *testing.T) {
	f := newBotFixture(t, "direct", true)

	assert.Equal(t, OutcomeExact, f.handle("ว่างเปล่า"))
	assert.Equal(t, []string{testTexts.NoContent}, f.d.texts())
}

func TestHandleMessage_InactiveEntryIsNotAnswered(t *testing.T) {
	f := newBotFixture(t, "direct", false)

	assert.Equal(t, OutcomeUnanswered, f.handle("ความลับ"))
	assert.NotContains(t, f.d.texts(), "ไม่ควรเห็น")
}

func TestHandleMessage_RankedDirect(t *testing.T) {
	f := newBotFixture(t, "direct", true)
	f.llm.expansion = "แผนที่ map ที่ตั้ง"

	assert.Equal(t, OutcomeRanked, f.handle("แมพ"))
	require.Len(t, f.d.sent, 2)
	assert.Equal(t, "ดู map ได้ที่ลิงก์นี้", f.d.sent[0].Text)
	assert.Equal(t, "https://example.com/map.png", f.d.sent[1].Attachment.Payload.URL)
}

func TestHandleMessage_ExpansionFailureFallsBackToRawText(t *testing.T) {
	f := newBotFixture(t, "direct", true)
	f.llm.expandErr = errors.New("groq timeout")

	assert.Equal(t, OutcomeRanked, f.handle("map"))
	assert.Equal(t, "ดู map ได้ที่ลิงก์นี้", f.d.sent[0].Text)
}

func TestHandleMessage_NotFoundIsRecorded(t *testing.T) {
	f := newBotFixture(t, "direct", true)
	f.llm.expansion = "ฟุตบอล football"

	assert.Equal(t, OutcomeUnanswered, f.handle("สนามบอล"))
	assert.Equal(t, []string{testTexts.NotFound}, f.d.texts())
	require.Len(t, f.sink.records, 1)
	rec := f.sink.records[0]
	assert.Equal(t, "u1", rec.SenderID)
	assert.Equal(t, "สนามบอล", rec.Text)
	assert.Equal(t, "สนามบอล ฟุตบอล football", rec.ExpandedQuery)
	assert.Equal(t, "KnowledgeBase", rec.Category)
	assert.NotEmpty(t, rec.ID)
}

func TestHandleMessage_SinkErrorIsSwallowed(t *testing.T) {
	f := newBotFixture(t, "direct", false)
	f.sink.err = errors.New("kafka down")

	assert.Equal(t, OutcomeUnanswered, f.handle("สนามบอล"))
	assert.Equal(t, []string{testTexts.NotFound}, f.d.texts())
}

func TestHandleMessage_GenerateMode(t *testing.T) {
	f := newBotFixture(t, "generate", true)
	f.llm.expansion = "map"
	f.llm.answer = "คณะอยู่ตามแผนที่นี้ค่ะ"

	assert.Equal(t, OutcomeGenerated, f.handle("แมพ"))
	assert.Equal(t, []string{"คณะอยู่ตามแผนที่นี้ค่ะ"}, f.d.texts())
	require.Len(t, f.llm.gotRefs, 1)
	assert.Equal(t, "คณะอยู่ที่ไหน", f.llm.gotRefs[0].Question)
}

func TestHandleMessage_GenerateModeNoAnswer(t *testing.T) {
	f := newBotFixture(t, "generate", true)
	f.llm.expansion = "map"
	f.llm.answerErr = llm.ErrNoAnswer

	assert.Equal(t, OutcomeUnanswered, f.handle("แมพ"))
	assert.Equal(t, []string{testTexts.NotFound}, f.d.texts())
	assert.Len(t, f.sink.records, 1)
}

func TestHandleMessage_HumanModeSuppressesAndRefreshes(t *testing.T) {
	f := newBotFixture(t, "direct", false)
	ctx := context.Background()

	f.svc.HandleEcho(ctx, "u1", "")
	assert.Equal(t, OutcomeSuppressed, f.handle("หอใน"))
	assert.Empty(t, f.d.sent)
	assert.Zero(t, f.d.typing)

	// user message at t=50s slides the window to t=110s
	*f.now = f.now.Add(50 * time.Second)
	assert.Equal(t, OutcomeSuppressed, f.handle("หอใน"))
	*f.now = f.now.Add(50 * time.Second)
	assert.True(t, f.tracker.IsHumanMode(ctx, "u1"))

	*f.now = f.now.Add(11 * time.Second)
	assert.Equal(t, OutcomeExact, f.handle("หอใน"))
}

func TestHandleEcho_BotMarkerIsIgnored(t *testing.T) {
	f := newBotFixture(t, "direct", false)
	ctx := context.Background()

	f.svc.HandleEcho(ctx, "u1", "bot_reply")
	assert.False(t, f.tracker.IsHumanMode(ctx, "u1"))

	f.svc.HandleEcho(ctx, "u1", "sent from page inbox")
	assert.True(t, f.tracker.IsHumanMode(ctx, "u1"))
}

func TestHandleMessage_DispatchErrorsAreNotFatal(t *testing.T) {
	f := newBotFixture(t, "direct", false)
	f.d.failAll = true

	assert.Equal(t, OutcomeExact, f.handle("ที่ตั้งคณะ"))
	assert.Len(t, f.d.sent, 2, "every message is attempted once")
}

func TestHandleMessage_IgnoresEmptyText(t *testing.T) {
	f := newBotFixture(t, "direct", false)

	assert.Equal(t, OutcomeIgnored, f.handle("   "))
	assert.Empty(t, f.d.sent)
	assert.Zero(t, f.loader.loads)
}

func TestHandleMessage_PanicBecomesSystemError(t *testing.T) {
	f := newBotFixture(t, "direct", false)
	f.loader.panicOnLoad = true

	assert.Equal(t, OutcomeFailed, f.handle("หอใน"))
	assert.Equal(t, []string{testTexts.SystemError}, f.d.texts())
}
