// Package llm turns free-text trading requests into draft intents with an
// OpenAI-compatible chat model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Generator is the chat completion call the parser needs. *openai.ChatModel
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config holds the chat model parameters.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// NewChatModel builds the OpenAI-compatible chat model.
func NewChatModel(ctx context.Context, cfg Config) (*openai.ChatModel, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: new chat model: %w", err)
	}
	return cm, nil
}

// Parser implements domain.IntentParser.
type Parser struct {
	gen     Generator
	symbols []string
}

var _ domain.IntentParser = (*Parser)(nil)

// NewParser creates a Parser that tells the model which token symbols exist.
func NewParser(gen Generator, symbols []string) *Parser {
	return &Parser{gen: gen, symbols: symbols}
}

const systemPrompt = `You convert a user's crypto trading request into JSON.
Supported tokens: %s.
Reply with one JSON object and nothing else:
{"action":"buy|sell|swap|hold","token_in":"SYMBOL","token_out":"SYMBOL","amount":number,"amount_type":"absolute|percentage","confidence":0.0-1.0,"reasoning":"short explanation"}
token_in is always the token being spent. For "buy X with Y" token_in is Y; for "sell X for Y" token_in is X.
Use amount_type "percentage" when the user asks for a share of a holding, with amount between 0 and 100; "all" means 100.
Use action "hold" with low confidence when the request is unclear or is not a trade.`

// Parse sends text to the model and decodes its JSON answer.
func (p *Parser) Parse(ctx context.Context, text string) (domain.DraftIntent, error) {
	msg, err := p.gen.Generate(ctx, []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPrompt, strings.Join(p.symbols, ", "))),
		schema.UserMessage(text),
	})
	if err != nil {
		return domain.DraftIntent{}, fmt.Errorf("llm: generate: %w", err)
	}
	if msg == nil {
		return domain.DraftIntent{}, fmt.Errorf("llm: empty response")
	}
	return decodeDraft(msg.Content)
}

// decodeDraft extracts the JSON object from a reply, tolerating markdown
// code fences and surrounding prose.
func decodeDraft(content string) (domain.DraftIntent, error) {
	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return domain.DraftIntent{}, fmt.Errorf("llm: no JSON object in response")
	}

	var d domain.DraftIntent
	if err := json.Unmarshal([]byte(body[start:end+1]), &d); err != nil {
		return domain.DraftIntent{}, fmt.Errorf("llm: decode draft: %w", err)
	}
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	d.AmountKind = strings.ToLower(strings.TrimSpace(d.AmountKind))
	return d, nil
}
