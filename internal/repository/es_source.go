package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	"kb-messenger-bot/internal/knowledge"
	"kb-messenger-bot/internal/model"
)

// maxCategoryRows 是单个分类一次最多读取的条目数。
const maxCategoryRows = 10000

// ESKnowledgeSource 从 Elasticsearch 索引读取知识条目。
// 每个文档是一行，category 字段区分分类，position 字段决定顺序。
type ESKnowledgeSource struct {
	client *elasticsearch.Client
	index  string
}

// NewESKnowledgeSource 创建 ES 数据源。
func NewESKnowledgeSource(client *elasticsearch.Client, index string) *ESKnowledgeSource {
	return &ESKnowledgeSource{client: client, index: index}
}

type esKnowledgeDoc struct {
	model.KnowledgeRow
	Position int `json:"position"`
}

// Fetch 读取分类下的全部文档。
func (s *ESKnowledgeSource) Fetch(ctx context.Context, category string) ([]model.KnowledgeRow, error) {
	query := map[string]interface{}{
		"size": maxCategoryRows,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"category": category},
		},
		"sort": []interface{}{
			map[string]interface{}{"position": map[string]interface{}{"order": "asc", "unmapped_type": "integer"}},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: elasticsearch search failed: %v", knowledge.ErrSourceUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: elasticsearch returned %s: %s", knowledge.ErrSourceUnavailable, res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esKnowledgeDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	if len(esResponse.Hits.Hits) == 0 {
		return nil, fmt.Errorf("%w: %s", knowledge.ErrCategoryNotFound, category)
	}

	rows := make([]model.KnowledgeRow, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		row := h.Source.KnowledgeRow
		row.Category = category
		rows = append(rows, row)
	}
	return rows, nil
}
