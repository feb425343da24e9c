package match

import (
	"kb-messenger-bot/internal/model"
)

// normalized 缓存一条知识条目参与匹配的字段的归一化结果。
type normalized struct {
	keywords  []string
	question  string
	answer    string
	hasAnswer bool
}

// Set 是一次请求所用的只读知识集，保持数据源中的原始顺序。
type Set struct {
	entries []model.KnowledgeEntry
	norm    []normalized
}

// NewSet 构建知识集。inactive 条目在这里被丢弃，任何查询结果都不会包含它们。
func NewSet(entries []model.KnowledgeEntry) *Set {
	s := &Set{
		entries: make([]model.KnowledgeEntry, 0, len(entries)),
		norm:    make([]normalized, 0, len(entries)),
	}
	for _, e := range entries {
		if !e.Active {
			continue
		}
		n := normalized{
			question:  Normalize(e.Question),
			hasAnswer: e.HasAnswerText(),
		}
		if n.hasAnswer {
			n.answer = Normalize(e.Answer)
		}
		for _, kw := range e.Keywords {
			if k := Normalize(kw); k != "" {
				n.keywords = append(n.keywords, k)
			}
		}
		s.entries = append(s.entries, e)
		s.norm = append(s.norm, n)
	}
	return s
}

// Len 返回知识集中 active 条目的数量。
func (s *Set) Len() int {
	return len(s.entries)
}

// Entries 返回知识集中的全部条目（只读）。
func (s *Set) Entries() []model.KnowledgeEntry {
	return s.entries
}
