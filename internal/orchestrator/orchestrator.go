// Package orchestrator drives a single provider.Adapter through a turn,
// injecting tool results inline and emitting the ordered, terminal-
// exclusive chunk.DomainChunk stream the rest of the core consumes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/streamcore/roundtable/internal/providers"
	"github.com/streamcore/roundtable/internal/toolexec"
	"github.com/streamcore/roundtable/pkg/chunk"
)

// Input-validation errors, returned synchronously by Run before any
// stream opens.
var (
	ErrNoMessages      = errors.New("orchestrator: request has no messages")
	ErrUnknownProvider = errors.New("orchestrator: unknown provider")
)

// Orchestrator runs a StreamRequest to completion against the adapter
// the request names, looping while the adapter keeps emitting tool_use
// chunks and the executor keeps producing results to feed back in: a
// tool-call-then-model-turn cycle expressed over the chunk vocabulary.
type Orchestrator struct {
	adapters map[string]providers.Adapter
	executor *toolexec.Executor
	maxTurns int
}

// New constructs an Orchestrator over the given adapters, keyed by
// Adapter.Name. maxTurns bounds the number of model-turn/tool-turn round
// trips in a single Run, guarding against a provider that never stops
// requesting tools.
func New(executor *toolexec.Executor, maxTurns int, adapters ...providers.Adapter) *Orchestrator {
	if maxTurns <= 0 {
		maxTurns = 25
	}
	m := make(map[string]providers.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Orchestrator{adapters: m, executor: executor, maxTurns: maxTurns}
}

func (o *Orchestrator) selectAdapter(providerID string) (providers.Adapter, error) {
	if providerID == "" && len(o.adapters) == 1 {
		for _, a := range o.adapters {
			return a, nil
		}
	}
	a, ok := o.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	return a, nil
}

// Run drives req to a terminal chunk, re-sequencing every turn's chunks
// onto one monotonic, stream-wide Seq and injecting tool_result chunks
// synchronously after each tool_use. Invalid input (no messages, a
// provider no adapter is registered for) is reported synchronously and
// no stream opens; after a non-nil channel is returned, every failure
// surfaces as a terminal error chunk instead. The channel is closed
// after exactly one terminal chunk (KindEnd or KindError) has been sent.
func (o *Orchestrator) Run(ctx context.Context, req chunk.StreamRequest) (<-chan chunk.DomainChunk, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	adapter, err := o.selectAdapter(req.ProviderID)
	if err != nil {
		return nil, err
	}

	out := make(chan chunk.DomainChunk, 32)

	go func() {
		defer close(out)

		req.System = concatSystem(req.System)
		messages := append([]chunk.Message(nil), req.Messages...)
		messages = repairDanglingToolUse(messages)

		var seq uint64
		send := func(c chunk.DomainChunk) {
			c.Seq = seq
			seq++
			out <- c
		}

		// fullText accumulates every KindText chunk's text across every
		// turn of this Run (not just the current turn), so whichever path
		// below ends the stream can stamp the terminal chunk's
		// FullContent with the complete reply the client should reconcile
		// its lossy, bundled view against.
		var fullText strings.Builder
		sendTerminal := func(c chunk.DomainChunk) {
			c.FullContent = fullText.String()
			send(c)
		}

		for turn := 0; turn < o.maxTurns; turn++ {
			turnReq := req
			turnReq.Messages = messages

			stream, err := adapter.Stream(ctx, turnReq)
			if err != nil {
				pe, ok := providers.AsProviderError(err)
				var retryable bool
				if ok {
					retryable = pe.Reason.IsRetryable()
				}
				sendTerminal(chunk.DomainChunk{Kind: chunk.KindError, ErrorCode: chunk.ErrUnknown, ErrorMsg: err.Error(), Retryable: retryable, Time: time.Now()})
				return
			}

			var pendingCalls []chunk.ToolCall
			var assistantText string
			var terminal *chunk.DomainChunk

			for c := range stream {
				switch c.Kind {
				case chunk.KindToolUse:
					pendingCalls = append(pendingCalls, *c.ToolCall)
					send(c)
				case chunk.KindText:
					assistantText += c.Text
					fullText.WriteString(c.Text)
					send(c)
				case chunk.KindEnd, chunk.KindError:
					t := c
					terminal = &t
				default:
					send(c)
				}
			}

			if terminal != nil && terminal.Kind == chunk.KindError {
				sendTerminal(*terminal)
				return
			}

			if len(pendingCalls) == 0 {
				if terminal != nil {
					sendTerminal(*terminal)
				} else {
					sendTerminal(chunk.DomainChunk{Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn, Time: time.Now()})
				}
				return
			}

			// Tool turn: inject results synchronously and continue the loop
			// with an updated transcript, matching spec.md's tool_use →
			// tool_result inline-injection contract.
			messages = append(messages, chunk.Message{Role: "assistant", Content: assistantText, ToolCalls: pendingCalls})
			results := o.executor.ExecuteConcurrently(ctx, pendingCalls)
			for _, r := range results {
				send(chunk.DomainChunk{Kind: chunk.KindToolResult, ToolResult: &r, Time: time.Now()})
			}
			messages = append(messages, chunk.Message{Role: "tool", ToolResults: results})

			if ctx.Err() != nil {
				sendTerminal(chunk.DomainChunk{Kind: chunk.KindError, ErrorCode: chunk.ErrCancelled, ErrorMsg: "stream cancelled", Time: time.Now()})
				return
			}
		}

		sendTerminal(chunk.DomainChunk{Kind: chunk.KindEnd, StopReason: chunk.StopMaxTokens, Time: time.Now()})
	}()

	return out, nil
}

// concatSystem joins multiple system messages in order, per the Open
// Question decision recorded in DESIGN.md.
func concatSystem(system []string) []string {
	if len(system) <= 1 {
		return system
	}
	joined := system[0]
	for _, s := range system[1:] {
		joined += "\n" + s
	}
	return []string{joined}
}

// repairDanglingToolUse drops a trailing assistant message's tool_calls
// that have no corresponding tool result in the following message, a
// defense against replaying an unpaired tool_use to a provider after a
// crash mid-turn.
func repairDanglingToolUse(messages []chunk.Message) []chunk.Message {
	if len(messages) == 0 {
		return messages
	}
	last := len(messages) - 1
	if messages[last].Role != "assistant" || len(messages[last].ToolCalls) == 0 {
		return messages
	}
	repaired := messages[last]
	repaired.ToolCalls = nil
	out := append([]chunk.Message(nil), messages[:last]...)
	return append(out, repaired)
}
