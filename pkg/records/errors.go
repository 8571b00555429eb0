package records

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrorDetails is the wire form of an error: a coarse code, the concrete
// error kind, and the human-readable message. Error summaries aggregate on
// the (code, type, message) triple.
type ErrorDetails struct {
	Code    int    `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (e *ErrorDetails) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return e.Message
}

// ErrorDetailsFrom captures an error for the wire. The type field carries the
// concrete Go type name so receivers can aggregate by error kind.
func ErrorDetailsFrom(err error) *ErrorDetails {
	if err == nil {
		return nil
	}
	var details *ErrorDetails
	if errors.As(err, &details) {
		return details
	}
	out := &ErrorDetails{Type: errorTypeName(err), Message: err.Error()}
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		out.Code = coded.ErrorCode()
	}
	return out
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.String()
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ErrorDetailsCount is one row of the final error summary.
type ErrorDetailsCount struct {
	Error ErrorDetails `json:"error"`
	Count int          `json:"count"`
}
