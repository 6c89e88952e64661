package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/capitalize-ai/cost-estimator/internal/model"
)

const (
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens      = 4096
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, modelName string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if modelName == "" {
		modelName = defaultAnthropicModel
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  modelName,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

func (c *AnthropicClient) params(req *CompletionRequest) anthropic.MessageNewParams {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	// The system message travels outside the message list.
	system := req.Messages[0].Text()
	if req.Contract != nil {
		system += "\n\n" + contractInstruction(req.Contract)
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages)-1)
	for _, msg := range req.Messages[1:] {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F(toAnthropicBlocks(msg)),
		})
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.F(modelName),
		MaxTokens: anthropic.F(int64(maxTokens)),
		System: anthropic.F([]anthropic.TextBlockParam{{
			Type: anthropic.F(anthropic.TextBlockParamTypeText),
			Text: anthropic.F(system),
		}}),
		Messages: anthropic.F(messages),
	}
}

func toAnthropicBlocks(msg model.Message) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Kind {
		case model.PartText:
			blocks = append(blocks, anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(p.Value),
			})
		case model.PartImage:
			payload := base64Payload(p.Value)
			blocks = append(blocks, anthropic.ImageBlockParam{
				Type: anthropic.F(anthropic.ImageBlockParamTypeImage),
				Source: anthropic.F(anthropic.ImageBlockParamSource{
					Type:      anthropic.F(anthropic.ImageBlockParamSourceTypeBase64),
					MediaType: anthropic.F(imageMediaType(payload)),
					Data:      anthropic.F(payload),
				}),
			})
		}
	}
	return blocks
}

// base64Payload strips the data URI header.
func base64Payload(dataURI string) string {
	if i := strings.Index(dataURI, ","); i >= 0 {
		return dataURI[i+1:]
	}
	return dataURI
}

// imageMediaType sniffs the decoded payload. The data URI always says jpeg,
// but this API rejects a declared type that does not match the bytes.
func imageMediaType(payload string) anthropic.ImageBlockParamSourceMediaType {
	head := payload
	if len(head) > 64 {
		head = head[:64]
	}
	data, _ := base64.StdEncoding.DecodeString(head)
	if http.DetectContentType(data) == "image/png" {
		return anthropic.ImageBlockParamSourceMediaTypeImagePNG
	}
	return anthropic.ImageBlockParamSourceMediaTypeImageJPEG
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	resp, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return nil, &RequestError{Provider: c.Name(), Err: err}
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Stream sends a streaming completion request.
func (c *AnthropicClient) Stream(ctx context.Context, req *CompletionRequest) (FragmentStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return &anthropicStream{stream: c.client.Messages.NewStreaming(ctx, c.params(req))}, nil
}

type anthropicEvents interface {
	Next() bool
	Current() anthropic.MessageStreamEvent
	Err() error
	Close() error
}

type anthropicStream struct {
	stream anthropicEvents
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if event.Type == anthropic.MessageStreamEventTypeContentBlockDelta && event.Delta.Type == "text_delta" {
			if event.Delta.Text != "" {
				return event.Delta.Text, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", &RequestError{Provider: string(ProviderAnthropic), Err: err}
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
