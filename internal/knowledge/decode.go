package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"kb-messenger-bot/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type menuPayload struct {
	Buttons []model.Button `validate:"min=1,max=3,dive"`
}

type carouselPayload struct {
	Elements []model.Element `validate:"min=1,max=10,dive"`
}

// UnescapeCSV 还原表格导出时被 CSV 转义过的字符串：
// 去掉首尾包裹的双引号，并把 "" 还原成 "。
func UnescapeCSV(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `""`, `"`)
}

// ParseActive 解析 active 列。
func ParseActive(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

// SplitKeywords 按逗号拆分 keyword 列，去掉空白项。
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// DecodeRow 把一行原始数据解码成 KnowledgeEntry。
// 结构化内容解析失败时不会返回错误，而是记录在 MediaErr 上，由渲染层决定如何回复。
func DecodeRow(row model.KnowledgeRow) model.KnowledgeEntry {
	e := model.KnowledgeEntry{
		Keywords: SplitKeywords(row.Keyword),
		Question: strings.TrimSpace(row.Question),
		Answer:   strings.TrimSpace(row.Answer),
		Note:     row.Note,
		Type:     model.ParseContentType(row.Type),
		Active:   ParseActive(row.Active),
	}
	e.Content, e.MediaErr = decodeContent(e, row.Media)
	return e
}

func decodeContent(e model.KnowledgeEntry, media string) (model.Content, error) {
	media = strings.TrimSpace(media)

	switch e.Type {
	case model.ContentImage:
		if media == "" {
			return nil, nil
		}
		return model.ImageContent{URL: UnescapeCSV(media)}, nil

	case model.ContentMenu:
		if media == "" {
			return nil, nil
		}
		var p menuPayload
		if err := decodeJSON(media, &p.Buttons); err != nil {
			return nil, err
		}
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedMedia, err)
		}
		menu := model.MenuContent{Buttons: p.Buttons}
		if e.HasAnswerText() {
			menu.Text = e.Answer
		}
		return menu, nil

	case model.ContentCarousel:
		if media == "" {
			return nil, nil
		}
		var p carouselPayload
		if err := decodeJSON(media, &p.Elements); err != nil {
			return nil, err
		}
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedMedia, err)
		}
		return model.CarouselContent{Elements: p.Elements}, nil

	default:
		if !e.HasAnswerText() {
			return nil, nil
		}
		return model.TextContent{Text: e.Answer}, nil
	}
}

// decodeJSON 先按原样解析，失败时再按 CSV 转义还原后解析。
// 未转义的 JSON 中可能含有空字符串 ""，不能无条件还原。
func decodeJSON(media string, v any) error {
	if err := json.Unmarshal([]byte(media), v); err == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(UnescapeCSV(media)), v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedMedia, err)
	}
	return nil
}
