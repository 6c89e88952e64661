// Package prompt builds the message sequences sent to the model for each
// stage. It does no I/O.
package prompt

import (
	"fmt"

	"github.com/capitalize-ai/cost-estimator/internal/diagram"
	"github.com/capitalize-ai/cost-estimator/internal/model"
)

// Builder constructs stage prompts.
type Builder struct {
	selection  *model.ArchitectureSelection
	structured bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithSelection injects the user's planning preferences into the system message.
func WithSelection(sel *model.ArchitectureSelection) Option {
	return func(b *Builder) {
		if sel != nil {
			s := *sel
			b.selection = &s
		}
	}
}

// WithStructuredEstimate makes the estimation stage request the JSON contract.
func WithStructuredEstimate(structured bool) Option {
	return func(b *Builder) {
		b.structured = structured
	}
}

// NewBuilder creates a Builder. Estimates are structured by default.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{structured: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// System returns the role-setting system message.
func (b *Builder) System() model.Message {
	text := systemPrompt
	if b.selection != nil {
		text += fmt.Sprintf(selectionTemplate, b.selection.Provider, b.selection.ServiceTier, b.selection.PriceCeiling)
	}
	return model.SystemMessage(text)
}

// Identification builds the stage-1 prompt: the system message and one user
// message carrying the instruction and the diagram. The caller keeps the
// result; it is the prefix of every later stage.
func (b *Builder) Identification(image []byte) []model.Message {
	return []model.Message{
		b.System(),
		model.NewMessage(model.RoleUser,
			model.TextPart(identifyInstruction),
			model.ImagePart(diagram.DataURI(image)),
		),
	}
}

// Estimation builds the cost estimation prompt. The contract is nil when the
// builder produces free-text estimates.
func (b *Builder) Estimation(prior []model.Message, identification string) ([]model.Message, *model.ResponseContract) {
	if b.structured {
		instruction := estimateInstruction + "\n" + fmt.Sprintf(estimateJSONInstruction, model.EstimateContract.Shape)
		return followOn(prior, identification, instruction), model.EstimateContract
	}
	return followOn(prior, identification, estimateInstruction+"\n"+estimateTextInstruction), nil
}

// Optimisation builds the optimisation prompt. Replies are free-form text.
func (b *Builder) Optimisation(prior []model.Message, identification string) []model.Message {
	return followOn(prior, identification, optimiseInstruction)
}

// Stage2 dispatches on the session mode.
func (b *Builder) Stage2(mode model.Mode, prior []model.Message, identification string) ([]model.Message, *model.ResponseContract) {
	if mode == model.ModeOptimise {
		return b.Optimisation(prior, identification), nil
	}
	return b.Estimation(prior, identification)
}

// FollowUp appends a user turn to the accumulated history.
func (b *Builder) FollowUp(history []model.Message, text string) []model.Message {
	msgs := model.CloneMessages(history)
	return append(msgs, model.UserMessage(text))
}

// followOn places the stage-1 reply as an assistant message before the new
// instruction, even when the reply is empty.
func followOn(prior []model.Message, identification, instruction string) []model.Message {
	msgs := make([]model.Message, 0, len(prior)+2)
	msgs = append(msgs, model.CloneMessages(prior)...)
	msgs = append(msgs,
		model.AssistantMessage(identification),
		model.UserMessage(instruction),
	)
	return msgs
}
