package bundler

import (
	"github.com/streamcore/roundtable/pkg/chunk"
)

// accumulator buffers chunks for one lane until a threshold (token
// count, byte count) is reached or a timeout flush is requested.
type accumulator struct {
	cfg    chunk.FlushControl
	chunks []chunk.DomainChunk
	tokens int
	bytes  int
}

func newAccumulator(cfg chunk.FlushControl) *accumulator {
	return &accumulator{cfg: cfg}
}

func (a *accumulator) add(c chunk.DomainChunk) {
	a.chunks = append(a.chunks, c)
	a.tokens += estimateTokens(c)
	a.bytes += estimateBytes(c)
}

// full reports whether the accumulator has crossed either configured
// threshold and should flush now rather than waiting for the latency
// timer.
func (a *accumulator) full() bool {
	if len(a.chunks) == 0 {
		return false
	}
	if a.cfg.MaxTokens > 0 && a.tokens >= a.cfg.MaxTokens {
		return true
	}
	if a.cfg.MaxBytes > 0 && a.bytes >= a.cfg.MaxBytes {
		return true
	}
	return false
}

// drain returns and clears the buffered chunks as a Bundle.
func (a *accumulator) drain() Bundle {
	if len(a.chunks) == 0 {
		return Bundle{}
	}
	out := a.chunks
	a.chunks = nil
	a.tokens = 0
	a.bytes = 0
	return Bundle{Chunks: out}
}

// flushOnTimeout drains the accumulator if it has anything buffered; the
// second return value reports whether there was anything to flush.
func (a *accumulator) flushOnTimeout() (Bundle, bool) {
	if len(a.chunks) == 0 {
		return Bundle{}, false
	}
	return a.drain(), true
}

// estimateTokens is a rough whitespace-split token estimate, adequate
// for bundler threshold purposes (it need not match a provider's own
// tokenizer, only give the bundler a consistent size signal).
func estimateTokens(c chunk.DomainChunk) int {
	n := 0
	inWord := false
	for _, r := range c.Text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	if n == 0 && c.Text != "" {
		n = 1
	}
	return n
}

func estimateBytes(c chunk.DomainChunk) int {
	return len(c.Text)
}
