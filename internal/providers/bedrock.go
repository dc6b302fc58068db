package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// BedrockConfig configures the Bedrock adapter. Credentials fall back to
// the AWS SDK's default chain (environment, shared config, instance
// role) when AccessKeyID is empty; Client lets a caller inject a
// pre-built bedrockruntime client for testing.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	Client          *bedrockruntime.Client
}

// DefaultBedrockConfig fills zero-value fields.
func DefaultBedrockConfig(cfg BedrockConfig) BedrockConfig {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return cfg
}

// BedrockAdapter streams Bedrock's InvokeModelWithResponseStream API as
// chunk.DomainChunk values, for Claude models served through AWS
// rather than Anthropic's own API.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	cfg    BedrockConfig
}

// NewBedrockAdapter constructs an adapter bound to the given config. If
// cfg.Client is nil the AWS SDK config chain builds one: explicit static
// credentials when cfg.AccessKeyID is set, the default chain otherwise.
func NewBedrockAdapter(ctx context.Context, cfg BedrockConfig) (*BedrockAdapter, error) {
	cfg = DefaultBedrockConfig(cfg)
	if cfg.Client == nil {
		var awsCfg aws.Config
		var err error
		if cfg.AccessKeyID != "" {
			awsCfg, err = config.LoadDefaultConfig(ctx,
				config.WithRegion(cfg.Region),
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretAccessKey,
					cfg.SessionToken,
				)),
			)
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		}
		if err != nil {
			return nil, err
		}
		cfg.Client = bedrockruntime.NewFromConfig(awsCfg)
	}
	return &BedrockAdapter{client: cfg.Client, cfg: cfg}, nil
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

// ValidateKey checks the AWS credentials with a one-token invocation of
// the default model; bedrockruntime exposes no cheaper authenticated
// call.
func (a *BedrockAdapter) ValidateKey(ctx context.Context) bool {
	body, err := bedrockRequestBody(chunk.StreamRequest{
		MaxTokens: 1,
		Messages:  []chunk.Message{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		return false
	}
	_, err = a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.cfg.DefaultModel),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err == nil {
		return true
	}
	pe := NewProviderError(a.Name(), a.cfg.DefaultModel, bedrockStatus(err), err)
	return pe.Reason != FailoverAuth
}

// bedrockStatus maps a smithy API error code onto the HTTP status the
// shared classifier understands; the SDK surfaces typed service errors
// rather than raw status codes.
func bedrockStatus(err error) int {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return 0
	}
	switch apiErr.ErrorCode() {
	case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException", "ExpiredTokenException":
		return 401
	case "ThrottlingException", "TooManyRequestsException":
		return 429
	case "ResourceNotFoundException", "ModelNotReadyException":
		return 404
	case "ValidationException":
		return 422
	case "ModelTimeoutException":
		return 408
	case "ServiceUnavailableException", "InternalServerException", "ModelErrorException":
		return 500
	default:
		return 0
	}
}

func (a *BedrockAdapter) Stream(ctx context.Context, req chunk.StreamRequest) (<-chan chunk.DomainChunk, error) {
	out := make(chan chunk.DomainChunk, 16)

	go func() {
		defer close(out)
		seq := &seqCounter{}
		model := req.ModelID
		if model == "" {
			model = a.cfg.DefaultModel
		}

		if ctx.Err() != nil {
			emitCancelled(out, seq, a.Name(), model)
			return
		}

		if err := a.runStream(ctx, req, model, out, seq); err != nil {
			emitError(out, seq, a.Name(), model, NewProviderError(a.Name(), model, bedrockStatus(err), err))
		}
	}()

	return out, nil
}

func (a *BedrockAdapter) runStream(ctx context.Context, req chunk.StreamRequest, model string, out chan<- chunk.DomainChunk, seq *seqCounter) error {
	body, err := bedrockRequestBody(req)
	if err != nil {
		return err
	}

	resp, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return err
	}

	var usage chunk.Usage
	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		chunkEvent, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		var payload bedrockChunkPayload
		if err := json.NewDecoder(bufio.NewReader(bytes.NewReader(chunkEvent.Value.Bytes))).Decode(&payload); err != nil {
			continue
		}

		switch payload.Type {
		case "content_block_delta":
			if payload.Delta.Text != "" {
				emit(out, chunk.DomainChunk{
					Seq: seq.next(), Kind: chunk.KindText, Text: payload.Delta.Text,
					ProviderID: a.Name(), ModelID: model, Time: time.Now(),
				})
			}
		case "message_delta":
			usage.CompletionTokens = payload.Usage.OutputTokens
			emit(out, chunk.DomainChunk{
				Seq: seq.next(), Kind: chunk.KindUsage, Usage: &usage,
				ProviderID: a.Name(), ModelID: model, Time: time.Now(),
			})
			emit(out, chunk.DomainChunk{
				Seq: seq.next(), Kind: chunk.KindEnd, StopReason: mapAnthropicStopReason(payload.Delta.StopReason),
				ProviderID: a.Name(), ModelID: model, Time: time.Now(),
			})
		case "message_start":
			usage.PromptTokens = payload.Message.Usage.InputTokens
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}
	return nil
}

// bedrockChunkPayload mirrors the subset of Anthropic-on-Bedrock's wire
// event fields this adapter actually needs; Bedrock forwards the same
// Messages-API event shape inside its own chunk envelope.
type bedrockChunkPayload struct {
	Type  string `json:"type"`
	Delta struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func bedrockRequestBody(req chunk.StreamRequest) ([]byte, error) {
	type bedrockMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	body := struct {
		AnthropicVersion string           `json:"anthropic_version"`
		MaxTokens        int              `json:"max_tokens"`
		Temperature      float64          `json:"temperature,omitempty"`
		TopP             float64          `json:"top_p,omitempty"`
		StopSequences    []string         `json:"stop_sequences,omitempty"`
		System           string           `json:"system,omitempty"`
		Messages         []bedrockMessage `json:"messages"`
	}{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
	}
	if len(req.System) > 0 {
		system := req.System[0]
		for _, s := range req.System[1:] {
			system += "\n" + s
		}
		body.System = system
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, bedrockMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(body)
}
