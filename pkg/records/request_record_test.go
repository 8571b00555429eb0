package records

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() RequestRecord {
	return RequestRecord{
		StartPerfNS: 100,
		EndPerfNS:   500,
		Responses:   []RawResponse{{PerfNS: 200, Text: "ok"}},
	}
}

func TestRequestRecordValid(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*RequestRecord)
		want   bool
	}{
		{"valid", func(r *RequestRecord) {}, true},
		{"error set", func(r *RequestRecord) { r.Error = &ErrorDetails{Message: "boom"} }, false},
		{"no responses", func(r *RequestRecord) { r.Responses = nil }, false},
		{"negative start", func(r *RequestRecord) { r.StartPerfNS = -1 }, false},
		{"end before start", func(r *RequestRecord) { r.EndPerfNS = 50 }, false},
		{"end equals start", func(r *RequestRecord) { r.EndPerfNS = r.StartPerfNS }, false},
		{"response without instant", func(r *RequestRecord) { r.Responses[0].PerfNS = 0 }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.mutate(&rec)
			assert.Equal(t, tc.want, rec.Valid())
		})
	}
}

func TestIsReasoningOnly(t *testing.T) {
	reasoningOnly := ParsedResponse{Data: &ReasoningResponseData{Reasoning: "thinking"}}
	assert.True(t, reasoningOnly.IsReasoningOnly())

	mixed := ParsedResponse{Data: &ReasoningResponseData{Content: "answer", Reasoning: "thinking"}}
	assert.False(t, mixed.IsReasoningOnly())

	text := ParsedResponse{Data: &TextResponseData{Text: "answer"}}
	assert.False(t, text.IsReasoningOnly())
}

type codedError struct{ code int }

func (e *codedError) Error() string  { return "coded failure" }
func (e *codedError) ErrorCode() int { return e.code }

func TestErrorDetailsFrom(t *testing.T) {
	assert.Nil(t, ErrorDetailsFrom(nil))

	details := ErrorDetailsFrom(errors.New("plain failure"))
	require.NotNil(t, details)
	assert.Equal(t, "errorString", details.Type)
	assert.Equal(t, "plain failure", details.Message)
	assert.Zero(t, details.Code)

	// Errors exposing ErrorCode carry their code onto the wire.
	details = ErrorDetailsFrom(fmt.Errorf("request: %w", &codedError{code: 502}))
	assert.Equal(t, 502, details.Code)
	assert.Equal(t, "codedError", details.Type)

	// Existing details pass through unchanged.
	orig := &ErrorDetails{Code: 404, Type: "http", Message: "not found"}
	assert.Same(t, orig, ErrorDetailsFrom(fmt.Errorf("wrapped: %w", orig)))
}

func TestErrorDetailsError(t *testing.T) {
	withType := &ErrorDetails{Type: "timeout", Message: "deadline exceeded"}
	assert.Equal(t, "timeout: deadline exceeded", withType.Error())

	plain := &ErrorDetails{Message: "boom"}
	assert.Equal(t, "boom", plain.Error())
}
