package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/cost-estimator/internal/diagram"
	"github.com/capitalize-ai/cost-estimator/internal/model"
)

func encodedDiagram(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if format == "png" {
		require.NoError(t, png.Encode(&buf, img))
	} else {
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

type anthropicParamsJSON struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type   string `json:"type"`
			Text   string `json:"text"`
			Source struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			} `json:"source"`
		} `json:"content"`
	} `json:"messages"`
}

func marshalParams(t *testing.T, c *AnthropicClient, req *CompletionRequest) anthropicParamsJSON {
	t.Helper()
	raw, err := json.Marshal(c.params(req))
	require.NoError(t, err)

	var out anthropicParamsJSON
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAnthropicParamsMoveSystemMessage(t *testing.T) {
	c, err := NewAnthropicClient("key", "")
	require.NoError(t, err)

	data := encodedDiagram(t, "png")
	req := &CompletionRequest{Messages: []model.Message{
		model.SystemMessage("You are a solution architect."),
		model.NewMessage(model.RoleUser,
			model.TextPart("Identify the cloud services."),
			model.ImagePart(diagram.DataURI(data)),
		),
		model.AssistantMessage("1 x Storage Account"),
	}}

	p := marshalParams(t, c, req)

	assert.Equal(t, defaultAnthropicModel, p.Model)
	assert.Equal(t, defaultMaxTokens, p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.Equal(t, "You are a solution architect.", p.System[0].Text)

	require.Len(t, p.Messages, 2)
	assert.Equal(t, "user", p.Messages[0].Role)
	require.Len(t, p.Messages[0].Content, 2)
	assert.Equal(t, "text", p.Messages[0].Content[0].Type)
	assert.Equal(t, "image", p.Messages[0].Content[1].Type)
	assert.Equal(t, "base64", p.Messages[0].Content[1].Source.Type)
	assert.Equal(t, diagram.EncodeForPrompt(data), p.Messages[0].Content[1].Source.Data)
	assert.Equal(t, "assistant", p.Messages[1].Role)
	assert.Equal(t, "1 x Storage Account", p.Messages[1].Content[0].Text)
}

func TestAnthropicParamsAppendContractInstruction(t *testing.T) {
	c, err := NewAnthropicClient("key", "claude-test")
	require.NoError(t, err)

	req := &CompletionRequest{
		Messages:  []model.Message{model.SystemMessage("sys"), model.UserMessage("estimate")},
		Contract:  model.EstimateContract,
		MaxTokens: 1000,
	}
	p := marshalParams(t, c, req)

	assert.Equal(t, "claude-test", p.Model)
	assert.Equal(t, 1000, p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.True(t, len(p.System[0].Text) > len("sys"))
	assert.Contains(t, p.System[0].Text, model.EstimateContract.Shape)

	req.Contract = nil
	p = marshalParams(t, c, req)
	assert.Equal(t, "sys", p.System[0].Text)
}

func TestAnthropicImageMediaTypeMatchesBytes(t *testing.T) {
	c, err := NewAnthropicClient("key", "")
	require.NoError(t, err)

	tests := []struct {
		format string
		want   string
	}{
		{"png", "image/png"},
		{"jpeg", "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			uri := diagram.DataURI(encodedDiagram(t, tt.format))
			assert.Contains(t, uri, "data:image/jpeg;base64,")

			req := &CompletionRequest{Messages: []model.Message{
				model.SystemMessage("sys"),
				model.NewMessage(model.RoleUser, model.ImagePart(uri)),
			}}
			p := marshalParams(t, c, req)
			assert.Equal(t, tt.want, p.Messages[0].Content[0].Source.MediaType)
		})
	}
}

func TestAnthropicCompleteRejectsInvalidPrompt(t *testing.T) {
	c, err := NewAnthropicClient("key", "")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &CompletionRequest{Messages: []model.Message{model.UserMessage("hi")}})
	assert.ErrorIs(t, err, ErrInvalidPrompt)

	_, err = c.Stream(context.Background(), &CompletionRequest{})
	assert.ErrorIs(t, err, ErrInvalidPrompt)

	_, err = NewAnthropicClient("", "")
	assert.Error(t, err)
}

// fakeEvents replays decoded stream events, then reports err.
type fakeEvents struct {
	events []anthropic.MessageStreamEvent
	pos    int
	err    error
	closed bool
}

func newFakeEvents(t *testing.T, err error, raw ...string) *fakeEvents {
	t.Helper()
	f := &fakeEvents{pos: -1, err: err}
	for _, r := range raw {
		var ev anthropic.MessageStreamEvent
		require.NoError(t, json.Unmarshal([]byte(r), &ev))
		f.events = append(f.events, ev)
	}
	return f
}

func (f *fakeEvents) Next() bool {
	f.pos++
	return f.pos < len(f.events)
}

func (f *fakeEvents) Current() anthropic.MessageStreamEvent { return f.events[f.pos] }
func (f *fakeEvents) Err() error                            { return f.err }
func (f *fakeEvents) Close() error                          { f.closed = true; return nil }

func TestAnthropicStreamFragments(t *testing.T) {
	events := newFakeEvents(t, nil,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Storage "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{}"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"is cheapest."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_stop"}`,
	)

	var got []string
	var indexes []int
	text, err := Drain(&anthropicStream{stream: events}, func(fragment string, index int) error {
		got = append(got, fragment)
		indexes = append(indexes, index)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Storage ", "is cheapest."}, got)
	assert.Equal(t, []int{0, 1}, indexes)
	assert.Equal(t, "Storage is cheapest.", text)
	assert.True(t, events.closed)

	_, err = (&anthropicStream{stream: events}).Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAnthropicStreamWrapsErrors(t *testing.T) {
	events := newFakeEvents(t, errors.New("overloaded_error"),
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`,
	)
	s := &anthropicStream{stream: events}

	fragment, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", fragment)

	_, err = s.Recv()
	require.ErrorIs(t, err, ErrModelRequestFailed)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "anthropic", reqErr.Provider)
	assert.EqualError(t, reqErr.Err, "overloaded_error")
}
