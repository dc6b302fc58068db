package providers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// DefaultAnthropicConfig fills the zero-value fields of cfg the way the
// teacher's NewAnthropicProvider constructor does.
func DefaultAnthropicConfig(cfg AnthropicConfig) AnthropicConfig {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return cfg
}

// AnthropicAdapter streams Anthropic Messages API completions as
// chunk.DomainChunk values.
type AnthropicAdapter struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicAdapter constructs an adapter bound to the given config.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	cfg = DefaultAnthropicConfig(cfg)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// ValidateKey checks the configured API key with a models listing, the
// cheapest authenticated call the API offers.
func (a *AnthropicAdapter) ValidateKey(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	if err == nil {
		return true
	}
	pe := NewProviderError(a.Name(), "", statusFromErr(err), err)
	return pe.Reason != FailoverAuth
}

// Stream issues the request and translates the provider's SSE event
// stream into chunk.DomainChunk values, retrying transient failures
// before the first byte of output has been observed by the caller — once
// any chunk has been sent downstream a mid-stream failure is reported as
// a terminal error chunk rather than silently retried, since the caller
// may already have forwarded partial text.
func (a *AnthropicAdapter) Stream(ctx context.Context, req chunk.StreamRequest) (<-chan chunk.DomainChunk, error) {
	out := make(chan chunk.DomainChunk, 16)

	go func() {
		defer close(out)
		seq := &seqCounter{}

		model := req.ModelID
		if model == "" {
			model = a.cfg.DefaultModel
		}

		var lastErr error
		sentAny := false

		for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
			if ctx.Err() != nil {
				emitCancelled(out, seq, a.Name(), model)
				return
			}

			err := a.runStream(ctx, req, model, out, seq, &sentAny)
			if err == nil {
				return
			}
			lastErr = err

			if sentAny {
				break
			}

			pe := NewProviderError(a.Name(), model, statusFromErr(err), err)
			if !pe.Reason.IsRetryable() || attempt == a.cfg.MaxRetries {
				break
			}

			delay := time.Duration(float64(a.cfg.RetryDelay) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				emitCancelled(out, seq, a.Name(), model)
				return
			case <-time.After(delay):
			}
		}

		if lastErr != nil {
			emitError(out, seq, a.Name(), model, NewProviderError(a.Name(), model, statusFromErr(lastErr), lastErr))
		}
	}()

	return out, nil
}

// runStream performs a single attempt at the streamed request. It
// returns nil only if the provider's stream reached its own terminal
// event and a chunk.KindEnd was emitted.
func (a *AnthropicAdapter) runStream(ctx context.Context, req chunk.StreamRequest, model string, out chan<- chunk.DomainChunk, seq *seqCounter, sentAny *bool) error {
	params := buildAnthropicParams(req, model)

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var usage chunk.Usage
	var activeToolCall *chunk.ToolCall
	var toolArgsBuf []byte
	ended := false

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				activeToolCall = &chunk.ToolCall{ID: tu.ID, Name: tu.Name}
				toolArgsBuf = nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindText, Text: delta.Text,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				*sentAny = true
			case anthropic.ThinkingDelta:
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindThinking, Text: delta.Thinking,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				*sentAny = true
			case anthropic.InputJSONDelta:
				toolArgsBuf = append(toolArgsBuf, []byte(delta.PartialJSON)...)
			}
		case anthropic.ContentBlockStopEvent:
			if activeToolCall != nil {
				activeToolCall.Arguments = toolArgsBuf
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindToolUse, ToolCall: activeToolCall,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				*sentAny = true
				activeToolCall = nil
				toolArgsBuf = nil
			}
		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(variant.Usage.OutputTokens)
			if stop := mapAnthropicStopReason(string(variant.Delta.StopReason)); stop != "" {
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindUsage, Usage: &usage,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindEnd, StopReason: stop,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				*sentAny = true
				ended = true
			}
		case anthropic.MessageStartEvent:
			usage.PromptTokens = int(variant.Message.Usage.InputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}
	if !ended {
		return errors.New("anthropic: stream ended without a stop reason")
	}
	return nil
}

func buildAnthropicParams(req chunk.StreamRequest, model string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if len(req.System) > 0 {
		system := req.System[0]
		for _, s := range req.System[1:] {
			system += "\n" + s
		}
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, anthropicMessage(m))
	}
	for _, t := range req.Tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Schema, &schema)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
			},
		})
	}
	return params
}

func anthropicMessage(m chunk.Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == "assistant" {
		role = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role:    role,
		Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
	}
}

func mapAnthropicStopReason(reason string) chunk.StopReason {
	switch reason {
	case "end_turn":
		return chunk.StopEndTurn
	case "max_tokens":
		return chunk.StopMaxTokens
	case "tool_use":
		return chunk.StopToolUse
	case "stop_sequence":
		return chunk.StopStopSequence
	default:
		return ""
	}
}

func emit(out chan<- chunk.DomainChunk, c chunk.DomainChunk) {
	out <- c
}

func emitError(out chan<- chunk.DomainChunk, seq *seqCounter, provider, model string, err error) {
	pe, ok := AsProviderError(err)
	code := chunk.ErrUnknown
	var retryable bool
	if ok {
		code = pe.Code
		retryable = pe.Reason.IsRetryable()
	}
	emit(out, chunk.DomainChunk{
		Seq: seq.next(), Kind: chunk.KindError, ErrorCode: code, ErrorMsg: err.Error(), Retryable: retryable,
		ProviderID: provider, ModelID: model, Time: time.Now(),
	})
}

// emitCancelled reports context cancellation as a terminal error with code
// cancelled, not a KindEnd, so every consumer of the stream (orchestrator,
// edge session, client) sees cancellation through the same terminal-error
// path regardless of where in the pipeline it was detected. Resubmitting a
// cancelled request is never expected to make progress on its own.
func emitCancelled(out chan<- chunk.DomainChunk, seq *seqCounter, provider, model string) {
	emit(out, chunk.DomainChunk{
		Seq: seq.next(), Kind: chunk.KindError, ErrorCode: chunk.ErrCancelled, ErrorMsg: "stream cancelled",
		ProviderID: provider, ModelID: model, Time: time.Now(),
	})
}

func statusFromErr(err error) int {
	var apiErr *anthropic.Error
	if ok := anthropicAsAPIError(err, &apiErr); ok {
		return apiErr.StatusCode
	}
	return 0
}

func anthropicAsAPIError(err error, target **anthropic.Error) bool {
	ae, ok := err.(*anthropic.Error)
	if ok {
		*target = ae
	}
	return ok
}
