package providers

import (
	"context"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// DefaultOpenAIConfig fills zero-value fields the same way
// DefaultAnthropicConfig does, keeping both provider configs symmetric.
func DefaultOpenAIConfig(cfg OpenAIConfig) OpenAIConfig {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return cfg
}

// OpenAIAdapter streams Chat Completions as chunk.DomainChunk values.
type OpenAIAdapter struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIAdapter constructs an adapter bound to the given config.
func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	cfg = DefaultOpenAIConfig(cfg)
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// ValidateKey checks the configured API key with a models listing.
func (a *OpenAIAdapter) ValidateKey(ctx context.Context) bool {
	_, err := a.client.ListModels(ctx)
	if err == nil {
		return true
	}
	pe := NewProviderError(a.Name(), "", openAIStatus(err), err)
	return pe.Reason != FailoverAuth
}

func (a *OpenAIAdapter) Stream(ctx context.Context, req chunk.StreamRequest) (<-chan chunk.DomainChunk, error) {
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

			pe := NewProviderError(a.Name(), model, openAIStatus(err), err)
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
			emitError(out, seq, a.Name(), model, NewProviderError(a.Name(), model, openAIStatus(lastErr), lastErr))
		}
	}()

	return out, nil
}

func (a *OpenAIAdapter) runStream(ctx context.Context, req chunk.StreamRequest, model string, out chan<- chunk.DomainChunk, seq *seqCounter, sentAny *bool) error {
	params := buildOpenAIParams(req, model)

	stream, err := a.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return err
	}
	defer stream.Close()

	var usage chunk.Usage
	toolArgs := map[int]*chunk.ToolCall{}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if isOpenAIStreamEOF(err) {
				break
			}
			return err
		}

		if resp.Usage != nil {
			usage.PromptTokens = resp.Usage.PromptTokens
			usage.CompletionTokens = resp.Usage.CompletionTokens
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindText, Text: choice.Delta.Content,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				*sentAny = true
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				call, ok := toolArgs[idx]
				if !ok {
					call = &chunk.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					toolArgs[idx] = call
				}
				call.Arguments = append(call.Arguments, []byte(tc.Function.Arguments)...)
			}
			if choice.FinishReason != "" {
				for _, call := range toolArgs {
					emit(out, chunk.DomainChunk{
						Seq: seq.next(), Kind: chunk.KindToolUse, ToolCall: call,
						ProviderID: a.Name(), ModelID: model, Time: time.Now(),
					})
				}
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindUsage, Usage: &usage,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindEnd, StopReason: mapOpenAIFinishReason(string(choice.FinishReason)),
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
				*sentAny = true
			}
		}
	}

	return nil
}

func buildOpenAIParams(req chunk.StreamRequest, model string) openai.ChatCompletionRequest {
	params := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stop:        req.Stop,
		Stream:      true,
	}
	if len(req.System) > 0 {
		system := req.System[0]
		for _, s := range req.System[1:] {
			system += "\n" + s
		}
		params.Messages = append(params.Messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, openai.ChatCompletionMessage{
			Role: m.Role, Content: m.Content,
		})
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return params
}

func mapOpenAIFinishReason(reason string) chunk.StopReason {
	switch reason {
	case "stop":
		return chunk.StopEndTurn
	case "length":
		return chunk.StopMaxTokens
	case "tool_calls", "function_call":
		return chunk.StopToolUse
	default:
		return chunk.StopEndTurn
	}
}

func isOpenAIStreamEOF(err error) bool {
	return err.Error() == "EOF"
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if ae, ok := err.(*openai.APIError); ok {
		apiErr = ae
		return apiErr.HTTPStatusCode
	}
	return 0
}
