// Package llm provides the chat-completion client used by every prompt stage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/capitalize-ai/cost-estimator/internal/model"
)

var (
	// ErrModelRequestFailed matches any transport, auth or backend failure.
	ErrModelRequestFailed = errors.New("model request failed")
	// ErrInvalidPrompt is returned before any network call when the message
	// sequence is empty or does not start with a system message.
	ErrInvalidPrompt = errors.New("invalid prompt")
)

// RequestError wraps the underlying cause of a failed model call.
type RequestError struct {
	Provider string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrModelRequestFailed, e.Provider, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrModelRequestFailed) hold for every RequestError.
func (e *RequestError) Is(target error) bool {
	return target == ErrModelRequestFailed
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model     string
	Messages  []model.Message
	Contract  *model.ResponseContract
	MaxTokens int
}

// Validate checks the message sequence invariants.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidPrompt)
	}
	if r.Messages[0].Role != model.RoleSystem {
		return fmt.Errorf("%w: first message must be a system message", ErrInvalidPrompt)
	}
	if r.Messages[0].HasImage() {
		return fmt.Errorf("%w: system message must not carry an image", ErrInvalidPrompt)
	}
	return nil
}

// CompletionResponse represents a completed, non-streamed reply.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for chat-completion backends.
type Client interface {
	// Complete sends a request and waits for the whole reply.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns the reply as a lazy fragment stream.
	Stream(ctx context.Context, req *CompletionRequest) (FragmentStream, error)

	// Name returns the provider name.
	Name() string
}

// FragmentStream yields a reply in order. Recv returns io.EOF after the last
// fragment; a stream cannot be restarted.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Drain reads s to completion, calling onFragment for every fragment, and
// returns the concatenated text. On error the partial text is returned with
// the error.
func Drain(s FragmentStream, onFragment func(fragment string, index int) error) (string, error) {
	defer s.Close()

	var b strings.Builder
	for index := 0; ; index++ {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment, index); err != nil {
				return b.String(), err
			}
		}
	}
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAzure     Provider = "azure"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config selects and configures a backend.
type Config struct {
	Provider Provider

	APIKey string
	Model  string

	// Azure only.
	Endpoint   string
	APIVersion string

	// Overrides the backend URL, used by tests.
	BaseURL string
}

// NewClient creates a new LLM client based on provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAzure:
		return NewAzureOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.APIVersion, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// contractInstruction is appended to the system prompt for backends with no
// native JSON mode.
func contractInstruction(c *model.ResponseContract) string {
	return "Respond with a single JSON object and nothing else. The object must have this shape: " + c.Shape
}
