package service

import (
	"context"
	"errors"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/match"
	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/repository"
	"kb-messenger-bot/pkg/hash"
	"kb-messenger-bot/pkg/log"
	"kb-messenger-bot/pkg/token"
)

// AdminRole 是管理员 token 中的角色。
const AdminRole = "ADMIN"

var (
	ErrInvalidCredentials    = errors.New("用户名或密码错误")
	ErrUnansweredUnavailable = errors.New("未配置数据库，无法查询未回答问题")
)

// KnowledgeCache 是带失效能力的知识加载器。
type KnowledgeCache interface {
	KnowledgeLoader
	Invalidate(category string)
}

// HandoverAdmin 是管理接口需要的接管操作。
type HandoverAdmin interface {
	SetHumanMode(ctx context.Context, userID string)
	Status(ctx context.Context, userID string) model.HandoverStatus
}

// RankedEntry 是一条带分数的检索结果。
type RankedEntry struct {
	Entry model.KnowledgeEntry `json:"entry"`
	Score int                  `json:"score"`
}

// SearchResult 是管理端知识检索的结果，与机器人实际使用的两种检索方式一致。
type SearchResult struct {
	Exact  []model.KnowledgeEntry `json:"exact"`
	Ranked []RankedEntry          `json:"ranked"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	Login(username, password string) (string, error)
	HandoverStatus(ctx context.Context, psid string) model.HandoverStatus
	TakeOver(ctx context.Context, psid string) model.HandoverStatus
	RefreshKnowledge(ctx context.Context, category string) int
	SearchKnowledge(ctx context.Context, category, query string) SearchResult
	ListUnanswered(ctx context.Context, limit int) ([]model.UnansweredQuery, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	admin          config.AdminConfig
	jwtManager     *token.JWTManager
	knowledge      KnowledgeCache
	handover       HandoverAdmin
	unansweredRepo repository.UnansweredRepository
	topK           int
}

// NewAdminService 创建一个新的 AdminService 实例。unansweredRepo 可以为 nil。
func NewAdminService(admin config.AdminConfig, jwtManager *token.JWTManager, knowledge KnowledgeCache, handover HandoverAdmin, unansweredRepo repository.UnansweredRepository, topK int) AdminService {
	return &adminService{
		admin:          admin,
		jwtManager:     jwtManager,
		knowledge:      knowledge,
		handover:       handover,
		unansweredRepo: unansweredRepo,
		topK:           topK,
	}
}

// Login 校验配置中的管理员账号并签发 token。
func (s *adminService) Login(username, password string) (string, error) {
	if s.admin.Username == "" || s.admin.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if username != s.admin.Username || !hash.CheckPasswordHash(password, s.admin.PasswordHash) {
		log.Warnw("[AdminService] 管理员登录失败", "username", username)
		return "", ErrInvalidCredentials
	}
	return s.jwtManager.GenerateToken(username, AdminRole)
}

func (s *adminService) HandoverStatus(ctx context.Context, psid string) model.HandoverStatus {
	return s.handover.Status(ctx, psid)
}

// TakeOver 让管理员不通过 echo 直接接管对话。
func (s *adminService) TakeOver(ctx context.Context, psid string) model.HandoverStatus {
	s.handover.SetHumanMode(ctx, psid)
	return s.handover.Status(ctx, psid)
}

// RefreshKnowledge 丢弃分类缓存并立即重新加载，返回 active 条目数。
func (s *adminService) RefreshKnowledge(ctx context.Context, category string) int {
	s.knowledge.Invalidate(category)
	n := len(s.knowledge.Load(ctx, category))
	log.Infof("[AdminService] 分类 %s 已刷新, active 条目: %d", category, n)
	return n
}

// SearchKnowledge 对分类同时执行精确匹配与相关度排序，便于运营排查机器人为何这样回答。
func (s *adminService) SearchKnowledge(ctx context.Context, category, query string) SearchResult {
	set := match.NewSet(s.knowledge.Load(ctx, category))
	res := SearchResult{
		Exact:  set.FindExact(query),
		Ranked: []RankedEntry{},
	}
	if res.Exact == nil {
		res.Exact = []model.KnowledgeEntry{}
	}
	for _, r := range set.Rank(query, s.topK) {
		res.Ranked = append(res.Ranked, RankedEntry{Entry: r.Entry, Score: r.Score})
	}
	return res
}

func (s *adminService) ListUnanswered(ctx context.Context, limit int) ([]model.UnansweredQuery, error) {
	if s.unansweredRepo == nil {
		return nil, ErrUnansweredUnavailable
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.unansweredRepo.FindRecent(ctx, limit)
}
