package service

import (
	"context"
	"errors"
	"sync"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/pkg/llm"
)

var testTexts = config.BotTexts{
	MenuTitle:         "กรุณาเลือกหัวข้อ",
	MenuMalformed:     "(ขออภัย รูปแบบเมนูไม่ถูกต้อง - กรุณาติดต่อเจ้าหน้าที่)",
	CarouselMalformed: "(ขออภัย รูปแบบ Carousel ไม่ถูกต้อง - กรุณาติดต่อเจ้าหน้าที่)",
	NoContent:         "ขออภัยค่ะ ไม่มีข้อมูลในส่วนนี้ ฝากข้อความไว้ได้เลยค่ะ (ref.a02)",
	NotFound:          "ขออภัยค่ะ ไม่มีข้อมูลในส่วนนี้ ลองถามใหม่อีกสักครู่ค่ะ",
	SystemError:       "ขออภัยค่ะ มีผู้ใช้งานเป็นจำนวนมาก ลองถามใหม่อีกสักครู่ค่ะ",
}

type fakeLoader struct {
	mu          sync.Mutex
	entries     []model.KnowledgeEntry
	loads       int
	invalidated []string
	panicOnLoad bool
}

func (f *fakeLoader) Load(_ context.Context, _ string) []model.KnowledgeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnLoad {
		panic("loader exploded")
	}
	f.loads++
	return f.entries
}

func (f *fakeLoader) Invalidate(category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, category)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []model.OutboundMessage
	typing  int
	failAll bool
}

func (d *recordingDispatcher) Send(_ context.Context, _ string, msg model.OutboundMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	if d.failAll {
		return errors.New("graph api down")
	}
	return nil
}

func (d *recordingDispatcher) SendTyping(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typing++
	return nil
}

func (d *recordingDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, m := range d.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeLLM struct {
	expansion   string
	expandErr   error
	answer      string
	answerErr   error
	gotRefs     []llm.Reference
	expandCalls int
}

func (f *fakeLLM) ExpandQuery(context.Context, string) (string, error) {
	f.expandCalls++
	return f.expansion, f.expandErr
}

func (f *fakeLLM) GenerateAnswer(_ context.Context, _ string, refs []llm.Reference) (string, error) {
	f.gotRefs = refs
	return f.answer, f.answerErr
}

type recordingSink struct {
	mu      sync.Mutex
	records []model.UnansweredQuery
	err     error
}

func (s *recordingSink) Record(_ context.Context, q model.UnansweredQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, q)
	return s.err
}

type fakeUnansweredRepo struct {
	created []model.UnansweredQuery
	err     error
}

func (r *fakeUnansweredRepo) Create(_ context.Context, q *model.UnansweredQuery) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, *q)
	return nil
}

func (r *fakeUnansweredRepo) FindRecent(_ context.Context, limit int) ([]model.UnansweredQuery, error) {
	if len(r.created) > limit {
		return r.created[:limit], nil
	}
	return r.created, nil
}

type fakePublisher struct {
	key     string
	payload []byte
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.key = key
	p.payload = payload
	return nil
}
