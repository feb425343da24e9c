package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-messenger-bot/internal/model"
)

func TestUnescapeCSV(t *testing.T) {
	assert.Equal(t, `[{"type":"postback"}]`, UnescapeCSV(`"[{""type"":""postback""}]"`))
	assert.Equal(t, `[{"type":"postback"}]`, UnescapeCSV(`  [{"type":"postback"}]  `))
	assert.Equal(t, `https://example.com/a.png`, UnescapeCSV(`https://example.com/a.png`))
}

func TestParseActive(t *testing.T) {
	for _, s := range []string{"TRUE", "true", " True ", "1", "yes", "Y"} {
		assert.True(t, ParseActive(s), s)
	}
	for _, s := range []string{"", "FALSE", "0", "no", "active"} {
		assert.False(t, ParseActive(s), s)
	}
}

func TestSplitKeywords(t *testing.T) {
	assert.Equal(t, []string{"หอใน", "หอพัก"}, SplitKeywords("หอใน, หอพัก ,,"))
	assert.Empty(t, SplitKeywords(" , "))
}

func TestDecodeRow_Text(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{Keyword: "หอใน", Question: "หอพัก?", Answer: "หอพักนักศึกษาอยู่ติดคณะค่ะ", Active: "TRUE"})

	assert.True(t, e.Active)
	assert.Equal(t, model.ContentText, e.Type)
	assert.Equal(t, model.TextContent{Text: "หอพักนักศึกษาอยู่ติดคณะค่ะ"}, e.Content)
	assert.NoError(t, e.MediaErr)
}

func TestDecodeRow_PlaceholderAnswerHasNoContent(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{Answer: "-", Type: "", Active: "true"})
	assert.Nil(t, e.Content)
	assert.False(t, e.HasAnswerText())
}

func TestDecodeRow_UnknownTypeFallsBackToText(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{Answer: "ok", Type: "video"})
	assert.Equal(t, model.ContentText, e.Type)
}

func TestDecodeRow_Image(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{Type: "Image", Media: " https://example.com/map.png "})
	assert.Equal(t, model.ImageContent{URL: "https://example.com/map.png"}, e.Content)

	e = DecodeRow(model.KnowledgeRow{Type: "image"})
	assert.Nil(t, e.Content)
	assert.NoError(t, e.MediaErr)
}

func TestDecodeRow_MenuFromEscapedCSV(t *testing.T) {
	row := model.KnowledgeRow{
		Answer: "-",
		Type:   "menu",
		Media:  `"[{""type"":""postback"",""title"":""ค่าเทอม"",""payload"":""FEE""},{""type"":""web_url"",""title"":""เว็บไซต์"",""url"":""https://example.com""}]"`,
	}
	e := DecodeRow(row)

	require.NoError(t, e.MediaErr)
	menu, ok := e.Content.(model.MenuContent)
	require.True(t, ok)
	assert.Empty(t, menu.Text)
	require.Len(t, menu.Buttons, 2)
	assert.Equal(t, "FEE", menu.Buttons[0].Payload)
	assert.Equal(t, "https://example.com", menu.Buttons[1].URL)
}

func TestDecodeRow_MenuUsesAnswerAsText(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{
		Answer: "เลือกเรื่องที่ต้องการ",
		Type:   "menu",
		Media:  `[{"type":"postback","title":"ทุน","payload":"SCHOLARSHIP"}]`,
	})
	require.NoError(t, e.MediaErr)
	assert.Equal(t, "เลือกเรื่องที่ต้องการ", e.Content.(model.MenuContent).Text)
}

func TestDecodeRow_MalformedMenu(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `[{"type":"postback",`,
		"not a list":       `{"type":"postback"}`,
		"empty list":       `[]`,
		"missing title":    `[{"type":"postback","payload":"X"}]`,
		"unknown type":     `[{"type":"share","title":"x","payload":"X"}]`,
		"web_url no url":   `[{"type":"web_url","title":"x"}]`,
		"too many buttons": `[{"type":"postback","title":"1","payload":"1"},{"type":"postback","title":"2","payload":"2"},{"type":"postback","title":"3","payload":"3"},{"type":"postback","title":"4","payload":"4"}]`,
	}
	for name, media := range cases {
		t.Run(name, func(t *testing.T) {
			e := DecodeRow(model.KnowledgeRow{Type: "menu", Media: media, Active: "true"})
			assert.ErrorIs(t, e.MediaErr, model.ErrMalformedMedia)
			assert.Nil(t, e.Content)
			assert.True(t, e.Active)
		})
	}
}

func TestDecodeRow_Carousel(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{
		Type: "carousel",
		Media: `[{"title":"คณะวิศวะ","subtitle":"อาคาร 1","image_url":"https://example.com/1.png",
			"buttons":[{"type":"web_url","title":"แผนที่","url":"https://maps.example.com"}]}]`,
	})
	require.NoError(t, e.MediaErr)
	c, ok := e.Content.(model.CarouselContent)
	require.True(t, ok)
	require.Len(t, c.Elements, 1)
	assert.Equal(t, "คณะวิศวะ", c.Elements[0].Title)

	e = DecodeRow(model.KnowledgeRow{Type: "carousel", Media: `[{"subtitle":"no title"}]`})
	assert.ErrorIs(t, e.MediaErr, model.ErrMalformedMedia)
}

func TestDecodeRow_PlainJSONWithEmptyStrings(t *testing.T) {
	e := DecodeRow(model.KnowledgeRow{
		Type:  "carousel",
		Media: `[{"title":"A","subtitle":"","image_url":"https://x.test/a.png"}]`,
	})
	require.NoError(t, e.MediaErr)
	c, ok := e.Content.(model.CarouselContent)
	require.True(t, ok)
	require.Len(t, c.Elements, 1)
	assert.Equal(t, "", c.Elements[0].Subtitle)
	assert.Equal(t, "https://x.test/a.png", c.Elements[0].ImageURL)

	e = DecodeRow(model.KnowledgeRow{
		Type:  "menu",
		Media: `[{"type":"postback","title":"ทุน","payload":"FUND","url":""}]`,
	})
	require.NoError(t, e.MediaErr)
	m, ok := e.Content.(model.MenuContent)
	require.True(t, ok)
	assert.Equal(t, "FUND", m.Buttons[0].Payload)
}
