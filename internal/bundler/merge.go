package bundler

import (
	"strings"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// Merge collapses a Bundle's buffered chunks into the single DomainChunk a
// consumer downstream of the Bundler actually wants. The bundler emits
// two bundle shapes: a run of text/thinking deltas, which concatenate
// into one synthesized text chunk whose Seq is the first buffered
// chunk's, and a single non-text chunk passed through verbatim, which
// Merge returns unchanged — its own Seq, empty Text.
func (b Bundle) Merge() chunk.DomainChunk {
	if len(b.Chunks) == 0 {
		return chunk.DomainChunk{}
	}

	merged := b.Chunks[0]
	var text strings.Builder
	for _, c := range b.Chunks {
		switch c.Kind {
		case chunk.KindText, chunk.KindThinking:
			text.WriteString(c.Text)
		default:
			merged = c
		}
	}
	merged.Seq = b.Chunks[0].Seq
	merged.Text = text.String()
	return merged
}
