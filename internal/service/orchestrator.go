package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/cost-estimator/internal/diagram"
	"github.com/capitalize-ai/cost-estimator/internal/estimate"
	"github.com/capitalize-ai/cost-estimator/internal/llm"
	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/internal/prompt"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
	"github.com/capitalize-ai/cost-estimator/pkg/metrics"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the session's current state.
	ErrInvalidTransition = errors.New("operation not allowed in current session state")
	// ErrNothingIdentified is returned when the identification reply is
	// blank; no stage-2 call is made.
	ErrNothingIdentified = errors.New("no services identified in diagram")
)

var tracer = otel.Tracer("github.com/capitalize-ai/cost-estimator/internal/service")

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	StructuredEstimate bool
	InjectSelection    bool
	MaxUploadBytes     int
	MaxTokens          int
	// RequestTimeout bounds each model call; 0 means no limit.
	RequestTimeout time.Duration
}

// FragmentCallback is called for each fragment of a streamed reply.
type FragmentCallback func(fragment string, index int) error

// Orchestrator drives a session through upload, identification, estimation
// or optimisation, and follow-up chat.
type Orchestrator struct {
	client    llm.Client
	publisher EventPublisher
	logger    *logger.Logger
	cfg       OrchestratorConfig
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(client llm.Client, publisher EventPublisher, cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Orchestrator{
		client:    client,
		publisher: publisher,
		logger:    log,
		cfg:       cfg,
	}
}

func (o *Orchestrator) builder(sess *Session) *prompt.Builder {
	opts := []prompt.Option{prompt.WithStructuredEstimate(o.cfg.StructuredEstimate)}
	if o.cfg.InjectSelection {
		opts = append(opts, prompt.WithSelection(sess.Selection()))
	}
	return prompt.NewBuilder(opts...)
}

// Upload accepts a diagram and runs identification and the stage-2 call. An
// upload on a session that already has a conversation starts a new one.
func (o *Orchestrator) Upload(ctx context.Context, sess *Session, data []byte) (*model.UploadResponse, error) {
	if !sess.turn.TryLock() {
		return nil, ErrSessionBusy
	}
	defer sess.turn.Unlock()

	img, err := diagram.Decode(data, o.cfg.MaxUploadBytes)
	if err != nil {
		metrics.UploadsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	sess.mu.Lock()
	reset := sess.state != StateIdle
	sess.image = img
	sess.stage1 = nil
	sess.identification = ""
	sess.result = nil
	if reset {
		sess.conversation = model.NewConversation(newID())
	}
	sess.setState(StateImageReceived)
	sess.mu.Unlock()

	o.logger.Info("diagram received",
		zap.String("session_id", sess.ID),
		zap.String("format", img.Info.Format),
		zap.Int("bytes", img.Info.Bytes),
		zap.Bool("reset", reset),
	)
	publish(ctx, o.publisher, o.logger, sess, model.EventImageReceived, "", "", map[string]any{
		"format": img.Info.Format,
		"bytes":  img.Info.Bytes,
		"width":  img.Info.Width,
		"height": img.Info.Height,
	})

	return o.run(ctx, sess)
}

// Retry resumes a session whose last upload failed in identification or in
// the stage-2 call.
func (o *Orchestrator) Retry(ctx context.Context, sess *Session) (*model.UploadResponse, error) {
	if !sess.turn.TryLock() {
		return nil, ErrSessionBusy
	}
	defer sess.turn.Unlock()

	switch sess.State() {
	case StateImageReceived, StateServicesIdentified:
		return o.run(ctx, sess)
	default:
		return nil, ErrInvalidTransition
	}
}

func (o *Orchestrator) run(ctx context.Context, sess *Session) (*model.UploadResponse, error) {
	if sess.State() == StateImageReceived {
		if err := o.identify(ctx, sess); err != nil {
			return nil, err
		}
	}

	if _, err := o.estimateOrOptimise(ctx, sess); err != nil {
		return nil, err
	}

	v := sess.View()
	return &model.UploadResponse{
		SessionID:      v.ID,
		State:          v.State,
		Image:          v.Image,
		Identification: v.Identification,
		Result:         v.Result,
	}, nil
}

func (o *Orchestrator) identify(ctx context.Context, sess *Session) error {
	sess.mu.RLock()
	state, img := sess.state, sess.image
	sess.mu.RUnlock()
	if state != StateImageReceived || img == nil {
		return ErrInvalidTransition
	}

	msgs := o.builder(sess).Identification(img.Data)

	resp, err := o.complete(ctx, sess, model.StageIdentifyServices, msgs, nil)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = ErrNothingIdentified
	}
	if err != nil {
		o.failed(ctx, sess, model.StageIdentifyServices, err)
		return err
	}

	sess.mu.Lock()
	sess.stage1 = msgs
	sess.identification = resp.Content
	sess.conversation.Append(msgs...)
	sess.conversation.Append(model.AssistantMessage(resp.Content))
	sess.setState(StateServicesIdentified)
	sess.mu.Unlock()

	sess.recordTurn(model.StageIdentifyServices, nil)
	publish(ctx, o.publisher, o.logger, sess, model.EventServicesIdentified, model.StageIdentifyServices, "", nil)
	return nil
}

func (o *Orchestrator) estimateOrOptimise(ctx context.Context, sess *Session) (*model.Result, error) {
	sess.mu.RLock()
	state, prior, identification := sess.state, model.CloneMessages(sess.stage1), sess.identification
	sess.mu.RUnlock()
	if state != StateServicesIdentified {
		return nil, ErrInvalidTransition
	}

	stage := sess.Mode.Stage()
	msgs, contract := o.builder(sess).Stage2(sess.Mode, prior, identification)

	resp, err := o.complete(ctx, sess, stage, msgs, contract)
	if err != nil {
		o.failed(ctx, sess, stage, err)
		return nil, err
	}

	result := &model.Result{Stage: stage, Raw: resp.Content}
	if contract != nil {
		rows, total, err := estimate.Format(resp.Content)
		if err != nil {
			metrics.EstimateParseFailuresTotal.Inc()
			o.logger.Warn("estimate did not match contract, showing raw text",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			result.ParseError = err.Error()
		} else {
			result.Tabular = true
			result.Rows = rows
			result.Total = total
			result.Markdown = estimate.Markdown(rows, total)
		}
	}

	sess.mu.Lock()
	sess.conversation.Append(msgs[len(msgs)-1], model.AssistantMessage(resp.Content))
	sess.result = result
	sess.setState(StateResultDisplayed)
	sess.mu.Unlock()

	sess.recordTurn(stage, nil)
	publish(ctx, o.publisher, o.logger, sess, model.EventResultDisplayed, stage, "", map[string]any{
		"tabular": result.Tabular,
		"total":   result.Total,
	})
	return result, nil
}

// FollowUp sends text with the whole conversation and streams the reply to
// onFragment. The user and assistant messages are appended together once
// the stream completes; a failed stream leaves the conversation untouched.
func (o *Orchestrator) FollowUp(ctx context.Context, sess *Session, text string, onFragment FragmentCallback) (*model.MessageCompleteEvent, error) {
	if !sess.turn.TryLock() {
		return nil, ErrSessionBusy
	}
	defer sess.turn.Unlock()

	sess.mu.RLock()
	state, conv := sess.state, sess.conversation
	sess.mu.RUnlock()
	if state != StateResultDisplayed && state != StateFollowUp {
		return nil, ErrInvalidTransition
	}

	msgs := o.builder(sess).FollowUp(conv.Messages(), text)

	ctx, span := tracer.Start(ctx, "stage."+string(model.StageFollowUp), trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("prompt.messages", len(msgs)),
	))
	defer span.End()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	stream, err := o.client.Stream(ctx, &llm.CompletionRequest{Messages: msgs, MaxTokens: o.cfg.MaxTokens})
	var reply string
	if err == nil {
		reply, err = llm.Drain(stream, onFragment)
	}
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "follow-up failed")
		metrics.RecordLLMCall(o.client.Name(), string(model.StageFollowUp), "error", latency.Seconds(), 0, 0)
		o.failed(ctx, sess, model.StageFollowUp, err)
		return nil, err
	}
	metrics.RecordLLMCall(o.client.Name(), string(model.StageFollowUp), "success", latency.Seconds(), 0, 0)

	sess.mu.Lock()
	conv.Append(model.UserMessage(text), model.AssistantMessage(reply))
	sess.setState(StateFollowUp)
	sess.mu.Unlock()

	sess.recordTurn(model.StageFollowUp, nil)
	publish(ctx, o.publisher, o.logger, sess, model.EventFollowUp, model.StageFollowUp, "", nil)

	o.logger.Info("follow-up completed",
		zap.String("session_id", sess.ID),
		zap.Int("messages", conv.Len()),
		zap.Duration("latency", latency),
	)

	return &model.MessageCompleteEvent{
		Content:      reply,
		MessageCount: conv.Len(),
		Latency:      latency,
	}, nil
}

func (o *Orchestrator) complete(ctx context.Context, sess *Session, stage model.Stage, msgs []model.Message, contract *model.ResponseContract) (*llm.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("llm.provider", o.client.Name()),
		attribute.Bool("llm.contract", contract != nil),
	))
	defer span.End()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := o.client.Complete(ctx, &llm.CompletionRequest{
		Messages:  msgs,
		Contract:  contract,
		MaxTokens: o.cfg.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		metrics.RecordLLMCall(o.client.Name(), string(stage), "error", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	metrics.RecordLLMCall(o.client.Name(), string(stage), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	o.logger.Info("stage completed",
		zap.String("session_id", sess.ID),
		zap.String("stage", string(stage)),
		zap.String("provider", o.client.Name()),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
	)
	return resp, nil
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) failed(ctx context.Context, sess *Session, stage model.Stage, err error) {
	o.logger.Error("stage failed",
		zap.String("session_id", sess.ID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	sess.recordTurn(stage, err)
	publish(ctx, o.publisher, o.logger, sess, model.EventTurnFailed, stage, err.Error(), nil)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, diagram.ErrUnsupportedImageFormat):
		return "unsupported_format"
	case errors.Is(err, diagram.ErrImageTooLarge):
		return "too_large"
	case errors.Is(err, diagram.ErrEmptyImage):
		return "empty"
	default:
		return fmt.Sprintf("%T", err)
	}
}
