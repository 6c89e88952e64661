package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/cost-estimator/internal/model"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient talks to OpenAI or an Azure OpenAI deployment.
type OpenAIClient struct {
	client *openai.Client
	model  string
	name   string
}

// NewAzureOpenAIClient creates a client for an Azure OpenAI deployment.
func NewAzureOpenAIClient(apiKey, endpoint, apiVersion, deployment string) (*OpenAIClient, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("Azure OpenAI API key is required")
	case endpoint == "":
		return nil, errors.New("Azure OpenAI endpoint is required")
	case deployment == "":
		return nil, errors.New("Azure OpenAI deployment is required")
	}

	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}
	cfg.AzureModelMapperFunc = func(string) string {
		return deployment
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  deployment,
		name:   string(ProviderAzure),
	}, nil
}

// NewOpenAIClient creates a new OpenAI client. baseURL may be empty.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
		name:   string(ProviderOpenAI),
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return c.name
}

func (c *OpenAIClient) request(req *CompletionRequest, stream bool) openai.ChatCompletionRequest {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	out := openai.ChatCompletionRequest{
		Model:     modelName,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Contract != nil {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(req, false))
	if err != nil {
		return nil, &RequestError{Provider: c.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &RequestError{Provider: c.name, Err: errors.New("response has no choices")}
	}

	return &CompletionResponse{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(resp.Choices[0].FinishReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Stream sends a streaming completion request.
func (c *OpenAIClient) Stream(ctx context.Context, req *CompletionRequest) (FragmentStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(req, true))
	if err != nil {
		return nil, &RequestError{Provider: c.name, Err: err}
	}

	return &openAIStream{stream: stream, provider: c.name}, nil
}

type openAIStream struct {
	stream   *openai.ChatCompletionStream
	provider string
}

func (s *openAIStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", &RequestError{Provider: s.provider, Err: err}
		}
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func toOpenAIMessages(msgs []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: string(msg.Role)}

		// Plain content for text-only messages; the API rejects a
		// message that sets both Content and MultiContent.
		if !msg.HasImage() {
			out[i].Content = msg.Text()
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch p.Kind {
			case model.PartText:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Value,
				})
			case model.PartImage:
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.Value},
				})
			}
		}
		out[i].MultiContent = parts
	}
	return out
}
