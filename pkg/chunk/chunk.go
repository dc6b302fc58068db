// Package chunk defines the domain vocabulary shared by every component of
// the streaming core: the universal streaming unit (DomainChunk), the
// request that starts a stream, and the persisted/merged projections of a
// chunk used downstream.
package chunk

import "time"

// Kind discriminates the payload carried by a DomainChunk. Exactly one of
// the kind-specific fields on DomainChunk is populated for a given Kind.
type Kind string

const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindUsage      Kind = "usage"
	KindEnd        Kind = "end"
	KindError      Kind = "error"
)

// Terminal reports whether a Kind ends a stream. Exactly one terminal
// chunk (KindEnd or KindError) closes every well-formed stream, and no
// chunk may follow it.
func (k Kind) Terminal() bool {
	return k == KindEnd || k == KindError
}

// StopReason explains why a stream ended. Only meaningful on a KindEnd
// chunk.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
	StopCancelled    StopReason = "cancelled"
)

// ErrorCode is the stable taxonomy of provider/tool/stream failures.
type ErrorCode string

const (
	ErrInvalidAPIKey   ErrorCode = "invalid_api_key"
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrQuotaExceeded   ErrorCode = "quota_exceeded"
	ErrContentFiltered ErrorCode = "content_filtered"
	ErrModelNotFound   ErrorCode = "model_not_found"
	ErrInvalidRequest  ErrorCode = "invalid_request"
	ErrTimeout         ErrorCode = "timeout"
	ErrNetwork         ErrorCode = "network"
	ErrServerError     ErrorCode = "server_error"
	ErrUnknown         ErrorCode = "unknown"
	ErrCancelled       ErrorCode = "cancelled"
)

// Usage reports token accounting for a stream. Not every provider reports
// completion tokens on every chunk; when a provider's wire format forces
// an estimate, Estimated marks it as such rather than presenting a guess
// as fact.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments []byte `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall, paired to it by ID.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError,omitempty"`
}

// DomainChunk is the universal streaming unit produced by a provider
// adapter, consumed by the orchestrator, bundler, merger, and persistence
// pipeline without any of them needing to know which provider produced
// it.
//
// Seq is monotonic and starts at 0 within a single domain stream. Kind
// determines which of the payload fields is meaningful; the rest are
// left at their zero value.
//
// FullContent and Retryable are only meaningful on a terminal chunk
// (Kind.Terminal()). FullContent carries the whole turn's accumulated
// text so a client can reconcile against a lossy, bundled client lane
// without having concatenated every delta itself. Retryable tells a
// client whether resubmitting the same request is expected to make
// progress; it is always false on a cancelled chunk.
type DomainChunk struct {
	Seq         uint64      `json:"seq"`
	Kind        Kind        `json:"kind"`
	Text        string      `json:"text,omitempty"`
	StopReason  StopReason  `json:"stopReason,omitempty"`
	Usage       *Usage      `json:"usage,omitempty"`
	ToolCall    *ToolCall   `json:"toolCall,omitempty"`
	ToolResult  *ToolResult `json:"toolResult,omitempty"`
	ErrorCode   ErrorCode   `json:"errorCode,omitempty"`
	ErrorMsg    string      `json:"errorMsg,omitempty"`
	FullContent string      `json:"fullContent,omitempty"`
	Retryable   bool        `json:"retryable,omitempty"`
	ProviderID  string      `json:"providerId,omitempty"`
	ModelID     string      `json:"modelId,omitempty"`
	Time        time.Time   `json:"time"`
}

// Message is a single turn in the conversation sent to a provider.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolDescriptor advertises a callable tool to a provider adapter.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      []byte `json:"schema"`
}

// StreamRequest starts a single domain stream. The sampling options
// carry provider-independent semantics; each adapter maps them onto its
// provider's own parameter names, omitting any the caller left at zero.
type StreamRequest struct {
	ThreadID    string           `json:"threadId"`
	MessageID   string           `json:"messageId"`
	UserID      string           `json:"userId,omitempty"`
	ProviderID  string           `json:"providerId"`
	ModelID     string           `json:"modelId"`
	System      []string         `json:"system,omitempty"` // concatenated in order by the orchestrator
	Messages    []Message        `json:"messages"`
	Tools       []ToolDescriptor `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	TopP        float64          `json:"topP,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
}

// FlushControl tunes how aggressively a Bundler coalesces chunks for a
// given output lane.
type FlushControl struct {
	MaxTokens  int           `json:"maxTokens"`
	MaxBytes   int           `json:"maxBytes"`
	MaxLatency time.Duration `json:"maxLatency"`
	DropStale  bool          `json:"dropStale"` // client lane is lossy; persistence lane never is
}

// BundlerConfig configures both of a Token Bundler's output lanes.
type BundlerConfig struct {
	Client      FlushControl `json:"client"`
	Persistence FlushControl `json:"persistence"`
}

// PersistedChunk is the durable, replay-idempotent projection of a
// DomainChunk. The triple (ThreadID, MessageID, Seq) is the dedup key the
// persistence store enforces.
type PersistedChunk struct {
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Payload   []byte    `json:"payload"` // json-encoded DomainChunk
	Finalized bool      `json:"finalized"`
	WrittenAt time.Time `json:"writtenAt"`
}

// PanelistStream is one contributor's DomainChunk stream entering a Fair
// Merger, along with the scheduling weight the merger uses to keep it
// from starving.
type PanelistStream struct {
	PanelistID  string
	DisplayName string
	Priority    int
	Chunks      <-chan DomainChunk
}

// MergedChunk is a DomainChunk re-sequenced by the Fair Merger, tagged
// with which panelist produced it and the seq it carried before
// merging.
//
// A panelist's own terminal chunk is forwarded attributed (PanelistID
// set, Final false) so a client can observe which panelist stopped and
// why; it does not end the merged stream by itself. Final is set only on
// the single synthesized terminal chunk the merger emits once every
// panelist stream has terminated, per spec.md §4.6 — that is the one
// chunk a consumer of the merged stream should treat as ending it.
type MergedChunk struct {
	DomainChunk
	PanelistID  string `json:"panelistId"`
	DisplayName string `json:"displayName,omitempty"`
	OriginalSeq uint64 `json:"originalSeq"`
	Final       bool   `json:"final"`
}
