package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSingleMessage(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte("data: hello\n\n"), 100)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Data())
	assert.Equal(t, int64(100), msgs[0].PerfNS)
}

// A message split across chunks is stamped with the arrival instant of the
// chunk that completed it, not the one that started it.
func TestFeedStampsCompletingChunk(t *testing.T) {
	var r Reader

	msgs, err := r.Feed([]byte("data: par"), 100)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = r.Feed([]byte("tial\n\ndata: next\n\n"), 250)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[0].Data())
	assert.Equal(t, int64(250), msgs[0].PerfNS)
	assert.Equal(t, "next", msgs[1].Data())
	assert.Equal(t, int64(250), msgs[1].PerfNS)
}

func TestFeedCRLFDelimiters(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte("data: a\r\n\r\ndata: b\r\n\r\n"), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Data())
	assert.Equal(t, "b", msgs[1].Data())
}

func TestFeedMultipleDataLines(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte("data: line1\ndata: line2\n\n"), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "line1\nline2", msgs[0].Data())
}

func TestFeedErrorEvent(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte("data: ok\n\nevent: error\n: upstream overloaded\n\n"), 1)

	require.Error(t, err)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, 502, respErr.Code)
	assert.Equal(t, "upstream overloaded", respErr.Message)

	// Messages completed before the error event still come back.
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Data())
}

func TestFeedSkipsEmptyMessages(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte("\n\n\n\ndata: real\n\n"), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "real", msgs[0].Data())
}

func TestFinishFlushesTrailing(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte("data: complete\n\ndata: trailing"), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	last, ok := r.Finish(20)
	require.True(t, ok)
	assert.Equal(t, "trailing", last.Data())
	assert.Equal(t, int64(20), last.PerfNS)

	_, ok = r.Finish(30)
	assert.False(t, ok)
}

func TestFinishEmptyBuffer(t *testing.T) {
	var r Reader
	_, ok := r.Finish(1)
	assert.False(t, ok)
}

func TestParseFieldForms(t *testing.T) {
	var r Reader
	msgs, err := r.Feed([]byte(": comment\nevent: delta\ndata:nospace\nretry\n\n"), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, "comment", msgs[0].Comment())
	assert.Equal(t, []Field{
		{Name: "", Value: "comment"},
		{Name: "event", Value: "delta"},
		{Name: "data", Value: "nospace"},
		{Name: "retry", Value: ""},
	}, msgs[0].Fields)
}
