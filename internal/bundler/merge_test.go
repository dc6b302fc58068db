package bundler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/roundtable/pkg/chunk"
)

func TestBundle_MergeConcatenatesTextOnly(t *testing.T) {
	b := Bundle{Chunks: []chunk.DomainChunk{
		{Seq: 3, Kind: chunk.KindText, Text: "hel"},
		{Seq: 4, Kind: chunk.KindText, Text: "lo"},
	}}
	merged := b.Merge()
	require.Equal(t, chunk.KindText, merged.Kind)
	require.Equal(t, "hello", merged.Text)
	require.Equal(t, uint64(3), merged.Seq)
}

func TestBundle_MergeReturnsLoneNonTextChunkVerbatim(t *testing.T) {
	b := Bundle{Chunks: []chunk.DomainChunk{
		{Seq: 6, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn, FullContent: "the answer is 42"},
	}}
	merged := b.Merge()
	require.Equal(t, chunk.KindEnd, merged.Kind)
	require.Equal(t, chunk.StopEndTurn, merged.StopReason)
	require.Equal(t, "the answer is 42", merged.FullContent)
	require.Empty(t, merged.Text)
	require.Equal(t, uint64(6), merged.Seq, "a passed-through chunk keeps its own seq")
}

func TestBundle_MergeEmptyIsZeroValue(t *testing.T) {
	require.Equal(t, chunk.DomainChunk{}, Bundle{}.Merge())
}
