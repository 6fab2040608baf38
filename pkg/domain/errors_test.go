package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	retriable := Retriable(CodeElementNotFound, "no match for %q", "#btn")
	wrapped := fmt.Errorf("exec a1: %w", retriable)

	assert.True(t, IsRetriable(wrapped))
	assert.False(t, IsScriptError(wrapped))
	assert.Equal(t, CodeElementNotFound, CodeOf(wrapped))
	assert.Equal(t, `ElementNotFound: no match for "#btn"`, retriable.Error())

	scripted := ScriptError(CodeScriptFailed, "boom")
	assert.True(t, IsScriptError(scripted))
	assert.False(t, IsRetriable(scripted))

	foreign := errors.New("io")
	assert.Equal(t, "", CodeOf(foreign))
	assert.Equal(t, "io", AsError(foreign).Message)
	assert.Nil(t, AsError(nil))
}

func TestErrorWithDetails_DoesNotMutate(t *testing.T) {
	base := Fatal(CodeInvalidParameter, "bad").WithDetails(map[string]any{"a": 1})
	next := base.WithDetails(map[string]any{"b": 2})

	assert.Len(t, base.Details, 1)
	assert.Len(t, next.Details, 2)
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{nil, false, "", 0, 0.0, []any{}, map[string]any{}} {
		assert.False(t, Truthy(v), "%#v", v)
	}
	for _, v := range []any{true, "x", 1, 2.5, []any{nil}, map[string]any{"k": 1}} {
		assert.True(t, Truthy(v), "%#v", v)
	}
}

func TestElementCloneKeepsNode(t *testing.T) {
	el := NewElement(nil, "a")
	assert.True(t, IsDocument(el.Node))

	cl := el.Clone("b")
	assert.Equal(t, el.Node, cl.Node)
	assert.Equal(t, "b", cl.Value)
	assert.Equal(t, []any{"a", "b"}, Values([]Element{el, cl}))
}
