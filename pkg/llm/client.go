// Package llm 通过 OpenAI 兼容接口（默认 Groq）做查询扩展与基于参考资料的回答生成。
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"kb-messenger-bot/internal/config"
)

var (
	// ErrEmptyCompletion 表示模型没有返回任何内容。
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
	// ErrNoAnswer 表示模型判断参考资料不足以回答问题。
	ErrNoAnswer = errors.New("llm found no answer in references")
)

// Reference 是提供给模型的一条参考资料。
type Reference struct {
	Question string
	Answer   string
	Note     string
}

// Client 定义了 LLM 客户端的接口。
type Client interface {
	// ExpandQuery 返回与用户问题相关的同义词、关键词（泰文与英文），以空格分隔的一行。
	ExpandQuery(ctx context.Context, text string) (string, error)
	// GenerateAnswer 只依据 refs 回答问题。
	GenerateAnswer(ctx context.Context, question string, refs []Reference) (string, error)
}

const defaultExpansionPrompt = `คุณคือระบบช่วยค้นหาข้อมูล หน้าที่ของคุณคือขยายคำค้นหาของผู้ใช้
ให้ตอบเป็นคำสำคัญ คำพ้องความหมาย และคำภาษาอังกฤษที่เกี่ยวข้อง คั่นด้วยช่องว่าง ในบรรทัดเดียว
ห้ามอธิบาย ห้ามใส่เครื่องหมายคำพูด ไม่เกิน 10 คำ
ตัวอย่าง: "แมพ" -> แผนที่ map location ที่ตั้ง`

const defaultAnswerPrompt = `คุณคือ "เจ้าหน้าที่ดูแลเพจ"
หน้าที่ของคุณคือตอบคำถามผู้ใช้งานให้ถูกต้อง ชัดเจน สุภาพ และเป็นมิตร (ใช้สรรพนามแทนตัวเองว่า "เรา" หรือ "แอดมิน" และลงท้ายด้วย "ค่ะ")

ข้อมูลอ้างอิงสำหรับตอบคำถาม:
{{references}}

กฎเหล็กในการตอบ:
1. ตอบคำถามโดยใช้ข้อมูลจาก "ข้อมูลอ้างอิง" เท่านั้น
2. ห้ามเดา ห้ามสร้างข้อมูลใหม่ ห้ามสมมติเองเด็ดขาด
3. ถ้าข้อมูลใน "ข้อมูลอ้างอิง" ไม่เพียงพอที่จะตอบคำถาม หรือไม่ตรงกับคำถาม ให้ตอบด้วยข้อความนี้เป๊ะๆ ห้ามแก้ไข: "{{no_result_text}}"
4. ภาษาที่ใช้ต้องเป็นกันเอง สุภาพ อบอุ่น ไม่ใช้ภาษาราชการจ๋าเกินไป
5. ตอบให้กระชับ ได้ใจความ`

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient 创建 OpenAI 兼容的客户端。
func NewClient(cfg config.LLMConfig) Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (c *openAIClient) ExpandQuery(ctx context.Context, text string) (string, error) {
	prompt := c.cfg.Prompt.Expansion
	if prompt == "" {
		prompt = defaultExpansionPrompt
	}
	out, err := c.complete(ctx, prompt, text, c.cfg.Expansion)
	if err != nil {
		return "", err
	}
	// 模型偶尔会返回多行或逗号分隔，统一成空格分隔
	out = strings.NewReplacer("\n", " ", ",", " ", "\"", " ").Replace(out)
	return strings.Join(strings.Fields(out), " "), nil
}

func (c *openAIClient) GenerateAnswer(ctx context.Context, question string, refs []Reference) (string, error) {
	prompt := c.cfg.Prompt.Answer
	if prompt == "" {
		prompt = defaultAnswerPrompt
	}
	system := strings.NewReplacer(
		"{{references}}", formatReferences(refs),
		"{{no_result_text}}", c.cfg.Prompt.NoResultText,
	).Replace(prompt)

	out, err := c.complete(ctx, system, "คำถาม: "+question, c.cfg.Generation)
	if err != nil {
		return "", err
	}
	if c.cfg.Prompt.NoResultText != "" && strings.Contains(out, c.cfg.Prompt.NoResultText) {
		return "", ErrNoAnswer
	}
	return out, nil
}

func (c *openAIClient) complete(ctx context.Context, system, user string, gen config.LLMGenerationConfig) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: gen.Temperature,
		MaxTokens:   gen.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

func formatReferences(refs []Reference) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		note := r.Note
		if strings.TrimSpace(note) == "" {
			note = "-"
		}
		parts = append(parts, fmt.Sprintf("- คำถาม: %s\n  คำตอบ: %s\n  หมายเหตุ: %s", r.Question, r.Answer, note))
	}
	return strings.Join(parts, "\n\n")
}
