package match

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"kb-messenger-bot/internal/model"
)

// DefaultTopK 是 Rank 默认返回的最大条数。
const DefaultTopK = 5

const (
	keywordScore   = 50
	fieldScore     = 10
	subPhraseScore = 2
)

// Scored 是一条带分数的排序结果。
type Scored struct {
	Entry model.KnowledgeEntry
	Score int
}

// Rank 把扩展后的查询按空白切成 token，计算每个条目的相关度，返回至多 k 条结果。
// k <= 0 时使用 DefaultTopK。
func (s *Set) Rank(expandedQuery string, k int) []Scored {
	return s.RankTerms(Tokenize(expandedQuery), k)
}

// RankTerms 与 Rank 相同，但直接接受检索词。检索词可以是带空格的短语，
// 短语中的每个长度大于 1 的部分会额外参与子串加分。
//
// 分数相同的条目保持知识集中的原始顺序，结果按条目去重。
func (s *Set) RankTerms(terms []string, k int) []Scored {
	if k <= 0 {
		k = DefaultTopK
	}

	normTerms := make([]string, 0, len(terms))
	for _, t := range terms {
		if nt := Normalize(t); nt != "" {
			normTerms = append(normTerms, nt)
		}
	}
	if len(normTerms) == 0 {
		return nil
	}

	type hit struct {
		idx   int
		score int
	}
	hits := make([]hit, 0, len(s.norm))
	for i, n := range s.norm {
		total := 0
		for _, t := range normTerms {
			total += n.score(t)
		}
		if total > 0 {
			hits = append(hits, hit{idx: i, score: total})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		return cmp.Compare(b.score, a.score)
	})

	seen := make(map[int]struct{}, len(hits))
	out := make([]Scored, 0, min(k, len(hits)))
	for _, h := range hits {
		if len(out) == k {
			break
		}
		if _, ok := seen[h.idx]; ok {
			continue
		}
		seen[h.idx] = struct{}{}
		out = append(out, Scored{Entry: s.entries[h.idx], Score: h.score})
	}
	return out
}

func (n normalized) score(term string) int {
	total := 0
	for _, kw := range n.keywords {
		if strings.Contains(kw, term) || strings.Contains(term, kw) {
			total += keywordScore
			break
		}
	}
	total += relevance(n.question, term)
	if n.hasAnswer {
		total += relevance(n.answer, term)
	}
	return total
}

// relevance 计算单个字段与单个检索词的重叠分。
func relevance(text, term string) int {
	if text == "" || term == "" {
		return 0
	}

	score := 0
	if strings.Contains(text, term) {
		score += fieldScore
	}
	if strings.Contains(term, text) {
		score += fieldScore
	}

	parts := make([]string, 0, 4)
	for _, p := range strings.Split(term, " ") {
		if utf8.RuneCountInString(p) > 1 {
			parts = append(parts, p)
		}
	}
	if len(parts) > 1 {
		for _, p := range parts {
			if strings.Contains(text, p) {
				score += subPhraseScore
			}
		}
	}
	return score
}
