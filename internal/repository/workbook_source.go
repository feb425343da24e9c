package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"kb-messenger-bot/internal/knowledge"
	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/pkg/storage"
)

// WorkbookSource 从 xlsx 工作簿读取知识条目，每个工作表是一个分类，
// 第一行是列名（keyword, question, answer, note, active, type, media）。
type WorkbookSource struct {
	name string
	open func(ctx context.Context) (io.ReadCloser, error)
}

// NewFileWorkbookSource 从本地文件读取工作簿。每次 Fetch 都会重新打开文件，编辑后无需重启。
func NewFileWorkbookSource(path string) *WorkbookSource {
	return &WorkbookSource{
		name: path,
		open: func(context.Context) (io.ReadCloser, error) { return os.Open(path) },
	}
}

// NewObjectWorkbookSource 从 MinIO 对象读取工作簿。
func NewObjectWorkbookSource(store *storage.ObjectStore, object string) *WorkbookSource {
	return &WorkbookSource{
		name: object,
		open: func(ctx context.Context) (io.ReadCloser, error) { return store.Open(ctx, object) },
	}
}

// Fetch 读取 category 同名工作表的所有数据行。
func (s *WorkbookSource) Fetch(ctx context.Context, category string) ([]model.KnowledgeRow, error) {
	rc, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook %s: %v", knowledge.ErrSourceUnavailable, s.name, err)
	}
	defer rc.Close()

	f, err := excelize.OpenReader(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse workbook %s: %v", knowledge.ErrSourceUnavailable, s.name, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(category); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: sheet %q", knowledge.ErrCategoryNotFound, category)
	}
	rows, err := f.GetRows(category)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", category, err)
	}
	return parseSheet(category, rows)
}

func parseSheet(category string, rows [][]string) ([]model.KnowledgeRow, error) {
	if len(rows) == 0 {
		return []model.KnowledgeRow{}, nil
	}

	columns := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["keyword"]; !ok {
		return nil, fmt.Errorf("sheet %q has no keyword column", category)
	}

	cell := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]model.KnowledgeRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		out = append(out, model.KnowledgeRow{
			Category: category,
			Keyword:  cell(row, "keyword"),
			Question: cell(row, "question"),
			Answer:   cell(row, "answer"),
			Note:     cell(row, "note"),
			Active:   cell(row, "active"),
			Type:     cell(row, "type"),
			Media:    cell(row, "media"),
		})
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
