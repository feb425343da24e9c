// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/match"
	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/pkg/llm"
	"kb-messenger-bot/pkg/log"
)

// AnswerModeGenerate 表示排序结果交给 LLM 组织成回答；默认直接发送最相关的条目。
const AnswerModeGenerate = "generate"

// Outcome 描述一次消息处理的结果。
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeExact      Outcome = "exact"
	OutcomeRanked     Outcome = "ranked"
	OutcomeGenerated  Outcome = "generated"
	OutcomeUnanswered Outcome = "unanswered"
	OutcomeFailed     Outcome = "failed"
)

// Dispatcher 把消息发给用户（Messenger 或测试控制台）。
type Dispatcher interface {
	Send(ctx context.Context, recipientID string, msg model.OutboundMessage) error
	SendTyping(ctx context.Context, recipientID string) error
}

// KnowledgeLoader 按分类加载知识条目，失败时返回空集合。
type KnowledgeLoader interface {
	Load(ctx context.Context, category string) []model.KnowledgeEntry
}

// HandoverGate 是人工接管状态机。
type HandoverGate interface {
	RefreshHumanMode(ctx context.Context, userID string) bool
	SetHumanMode(ctx context.Context, userID string)
}

// BotService 接口定义了机器人处理消息的业务操作。
type BotService interface {
	HandleMessage(ctx context.Context, ev model.InboundEvent, d Dispatcher) Outcome
	HandleEcho(ctx context.Context, recipientID, metadata string)
}

// BotOptions 是 BotService 的行为配置。
type BotOptions struct {
	Category   string
	TopK       int
	AnswerMode string
	Marker     string
	Texts      config.BotTexts
}

type botService struct {
	knowledge KnowledgeLoader
	handover  HandoverGate
	llm       llm.Client
	sink      UnansweredSink
	renderer  Renderer
	opts      BotOptions
}

// NewBotService 创建 BotService。llmClient 可以为 nil，此时不做查询扩展，也不生成回答。
func NewBotService(knowledge KnowledgeLoader, handover HandoverGate, llmClient llm.Client, sink UnansweredSink, opts BotOptions) BotService {
	if opts.TopK <= 0 {
		opts.TopK = match.DefaultTopK
	}
	return &botService{
		knowledge: knowledge,
		handover:  handover,
		llm:       llmClient,
		sink:      sink,
		renderer:  NewRenderer(opts.Texts),
		opts:      opts,
	}
}

// HandleMessage 处理一条用户消息：
// 人工模式下只顺延窗口不回复；否则先做关键词精确匹配，
// 未命中时扩展查询做相关度排序，仍无结果则致歉并记录到未回答问题。
func (s *botService) HandleMessage(ctx context.Context, ev model.InboundEvent, d Dispatcher) (outcome Outcome) {
	text := strings.TrimSpace(ev.Text)
	if ev.SenderID == "" || text == "" {
		return OutcomeIgnored
	}

	if s.handover.RefreshHumanMode(ctx, ev.SenderID) {
		log.Infof("[BotService] 用户 %s 处于人工模式，机器人不回复", ev.SenderID)
		return OutcomeSuppressed
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[BotService] 处理消息时发生 panic, user: %s, panic: %v", ev.SenderID, r)
			s.send(ctx, d, ev.SenderID, []model.OutboundMessage{model.TextMessage(s.opts.Texts.SystemError)})
			outcome = OutcomeFailed
		}
	}()

	if err := d.SendTyping(ctx, ev.SenderID); err != nil {
		log.Debugf("[BotService] 发送 typing 失败: %v", err)
	}

	set := match.NewSet(s.knowledge.Load(ctx, s.opts.Category))

	// 1. 关键词精确匹配，命中的全部条目按原顺序发送
	if exact := set.FindExact(text); len(exact) > 0 {
		log.Infow("[BotService] 关键词精确命中", "user", ev.SenderID, "matches", len(exact))
		msgs := s.renderer.RenderAll(exact)
		if len(msgs) == 0 {
			log.Warnw("[BotService] 命中条目没有可发送的内容", "user", ev.SenderID)
			msgs = []model.OutboundMessage{model.TextMessage(s.opts.Texts.NoContent)}
		}
		s.send(ctx, d, ev.SenderID, msgs)
		return OutcomeExact
	}

	// 2. 查询扩展 + 相关度排序
	expanded := s.expand(ctx, text)
	ranked := set.Rank(expanded, s.opts.TopK)
	if len(ranked) == 0 {
		log.Infow("[BotService] 扩展查询后仍无结果", "user", ev.SenderID, "expanded", expanded)
		s.unanswered(ctx, d, ev, expanded)
		return OutcomeUnanswered
	}
	log.Infow("[BotService] 相关度排序命中", "user", ev.SenderID, "candidates", len(ranked), "topScore", ranked[0].Score)

	if s.opts.AnswerMode == AnswerModeGenerate && s.llm != nil {
		answer, err := s.llm.GenerateAnswer(ctx, text, references(ranked))
		if err != nil {
			if !errors.Is(err, llm.ErrNoAnswer) {
				log.Warnw("[BotService] 生成回答失败", "user", ev.SenderID, "error", err)
			}
			s.unanswered(ctx, d, ev, expanded)
			return OutcomeUnanswered
		}
		s.send(ctx, d, ev.SenderID, []model.OutboundMessage{model.TextMessage(answer)})
		return OutcomeGenerated
	}

	msgs := s.renderer.Render(ranked[0].Entry)
	if len(msgs) == 0 {
		msgs = []model.OutboundMessage{model.TextMessage(s.opts.Texts.NoContent)}
	}
	s.send(ctx, d, ev.SenderID, msgs)
	return OutcomeRanked
}

// HandleEcho 处理页面发出消息的 echo。不带机器人标记的 echo 说明是管理员在回复，
// 该用户进入人工模式。
func (s *botService) HandleEcho(ctx context.Context, recipientID, metadata string) {
	if recipientID == "" || metadata == s.opts.Marker {
		return
	}
	s.handover.SetHumanMode(ctx, recipientID)
}

func (s *botService) expand(ctx context.Context, text string) string {
	if s.llm == nil {
		return text
	}
	extra, err := s.llm.ExpandQuery(ctx, text)
	if err != nil {
		log.Warnw("[BotService] 查询扩展失败，使用原始问题", "error", err)
		return text
	}
	log.Debugf("[BotService] 查询扩展: %q -> %q", text, extra)
	return text + " " + extra
}

func (s *botService) unanswered(ctx context.Context, d Dispatcher, ev model.InboundEvent, expanded string) {
	s.send(ctx, d, ev.SenderID, []model.OutboundMessage{model.TextMessage(s.opts.Texts.NotFound)})

	q := model.UnansweredQuery{
		ID:        uuid.NewString(),
		SenderID:  ev.SenderID,
		Category:  s.opts.Category,
		Text:      strings.TrimSpace(ev.Text),
		CreatedAt: time.Now(),
	}
	if expanded != q.Text {
		q.ExpandedQuery = expanded
	}
	if err := s.sink.Record(ctx, q); err != nil {
		log.Error("[BotService] 记录未回答问题失败", err)
	}
}

// send 依次发送消息。发送失败只记录日志，不重试。
func (s *botService) send(ctx context.Context, d Dispatcher, recipientID string, msgs []model.OutboundMessage) {
	for _, m := range msgs {
		if err := d.Send(ctx, recipientID, m); err != nil {
			log.Errorf("[BotService] 发送消息失败, user: %s, error: %v", recipientID, err)
		}
	}
}

func references(ranked []match.Scored) []llm.Reference {
	refs := make([]llm.Reference, 0, len(ranked))
	for _, r := range ranked {
		answer := r.Entry.Answer
		if !r.Entry.HasAnswerText() {
			answer = "-"
		}
		refs = append(refs, llm.Reference{Question: r.Entry.Question, Answer: answer, Note: r.Entry.Note})
	}
	return refs
}
