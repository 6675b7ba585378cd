package sqlquery

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const DefaultModel = openai.ChatModelGPT4oMini

// Generator turns a natural language question into a single SQL query.
type Generator interface {
	GenerateSQL(ctx context.Context, question string, schema string) (string, error)
}

type GeneratorFunc func(ctx context.Context, question string, schema string) (string, error)

func (f GeneratorFunc) GenerateSQL(ctx context.Context, question string, schema string) (string, error) {
	return f(ctx, question, schema)
}

const systemPrompt = `You translate questions into SQLite queries.
Answer with exactly one read-only SELECT statement and nothing else.
Only use tables and columns from this schema:
%s`

type OpenAIGenerator struct {
	client openai.Client
	model  string
}

type GeneratorOption func(*generatorOptions)

type generatorOptions struct {
	baseURL string
	model   string
}

func WithBaseURL(baseURL string) GeneratorOption {
	return func(o *generatorOptions) { o.baseURL = baseURL }
}

func WithModel(model string) GeneratorOption {
	return func(o *generatorOptions) { o.model = model }
}

func NewOpenAIGenerator(apiKey string, opts ...GeneratorOption) *OpenAIGenerator {
	options := generatorOptions{model: DefaultModel}
	for _, opt := range opts {
		opt(&options)
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(options.baseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(requestOpts...), model: options.model}
}

func (g *OpenAIGenerator) GenerateSQL(ctx context.Context, question string, schema string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, schema)),
			openai.UserMessage(question),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate sql: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("sql generation returned no choices")
	}
	return stripCodeFence(resp.Choices[0].Message.Content), nil
}

// stripCodeFence removes the markdown fence models like to wrap code in.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		text = text[newline+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
