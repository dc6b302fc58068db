package edge

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// wireEventName maps a chunk.Kind to the SSE event name spec.md §6
// defines (message/tool_use/tool_result/end/error), collapsing
// text/thinking/usage into a single "message" event the way a client
// expects incremental content framed uniformly.
func wireEventName(k chunk.Kind) string {
	switch k {
	case chunk.KindToolUse:
		return "tool_use"
	case chunk.KindToolResult:
		return "tool_result"
	case chunk.KindEnd:
		return "end"
	case chunk.KindError:
		return "error"
	default:
		return "message"
	}
}

// SSEEncoder writes Events to w as Server-Sent Events. It is the sole
// wire-transport piece this module implements — no HTTP server, per the
// Edge Session's Non-goal on building transport framing beyond the
// encoder itself.
type SSEEncoder struct {
	w io.Writer
}

// NewSSEEncoder wraps w.
func NewSSEEncoder(w io.Writer) *SSEEncoder {
	return &SSEEncoder{w: w}
}

// Encode writes one SSE frame for e. A keepalive is written as an SSE
// comment line so it never surfaces as a parsed event to a standards-
// compliant EventSource client.
func (e *SSEEncoder) Encode(ev Event) error {
	if ev.Keepalive {
		_, err := fmt.Fprint(e.w, ": keepalive\n\n")
		return err
	}

	data, err := json.Marshal(ev.Chunk)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", wireEventName(ev.Chunk.Kind), data)
	return err
}
