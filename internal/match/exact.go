package match

import (
	"strings"

	"kb-messenger-bot/internal/model"
)

// FindExact 返回所有“任一关键词是查询子串”的条目，保持原始顺序，不做排序与截断。
func (s *Set) FindExact(query string) []model.KnowledgeEntry {
	q := Normalize(query)
	if q == "" {
		return nil
	}

	var matches []model.KnowledgeEntry
	for i, n := range s.norm {
		for _, kw := range n.keywords {
			if strings.Contains(q, kw) {
				matches = append(matches, s.entries[i])
				break
			}
		}
	}
	return matches
}
