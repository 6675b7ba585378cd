// Package image implements the generate_image tool on the OpenAI images API.
package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-voice/core/tools"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	Name = "generate_image"

	DefaultModel = openai.ImageModelDallE3
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-voice/core/tools/image")

type Args struct {
	Prompt string `json:"prompt" jsonschema:"description=What the image should show"`
	Size   string `json:"size,omitempty" jsonschema:"enum=1024x1024,enum=1792x1024,enum=1024x1792,description=Image size in pixels"`
}

type Image struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type Option func(*generatorOptions)

type generatorOptions struct {
	baseURL string
	model   openai.ImageModel
}

func WithBaseURL(baseURL string) Option {
	return func(o *generatorOptions) { o.baseURL = baseURL }
}

func WithModel(model string) Option {
	return func(o *generatorOptions) { o.model = openai.ImageModel(model) }
}

type Generator struct {
	client openai.Client
	model  openai.ImageModel
}

func NewGenerator(apiKey string, opts ...Option) *Generator {
	options := generatorOptions{model: DefaultModel}
	for _, opt := range opts {
		opt(&options)
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(options.baseURL))
	}
	return &Generator{client: openai.NewClient(requestOpts...), model: options.model}
}

func (g *Generator) Capability() tools.Capability {
	return tools.MustNewFunc("Generate an image from a text description and return its URL.",
		func(ctx context.Context, args Args) (any, error) { return g.Generate(ctx, args.Prompt, args.Size) })
}

func (g *Generator) Generate(ctx context.Context, prompt, size string) (*Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("empty image prompt")
	}
	if size == "" {
		size = string(openai.ImageGenerateParamsSize1024x1024)
	}
	logger.Info("generating image", "model", g.model, "size", size)

	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          g.model,
		Size:           openai.ImageGenerateParamsSize(size),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("image generation returned no image")
	}

	return &Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}
