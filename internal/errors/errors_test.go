package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexErrorFormatting(t *testing.T) {
	err := NewIndexError(ErrorTypeAnalysis, "parse", stderrors.New("boom")).WithFile("/ws/a.py")
	assert.Contains(t, err.Error(), "analysis")
	assert.Contains(t, err.Error(), "/ws/a.py")
	assert.Contains(t, err.Error(), "boom")

	bare := NewIndexError(ErrorTypeConfig, "load", stderrors.New("bad value"))
	assert.NotContains(t, bare.Error(), "for")
}

func TestIndexErrorUnwrap(t *testing.T) {
	cause := stderrors.New("underlying")
	err := NewIndexError(ErrorTypeSnapshot, "save", cause)
	assert.True(t, stderrors.Is(err, cause))
}

func TestRecoverability(t *testing.T) {
	assert.True(t, NewIndexError(ErrorTypeAnalysis, "parse", stderrors.New("x")).IsRecoverable())
	assert.False(t, NewIndexError(ErrorTypeSyntax, "parse", stderrors.New("x")).IsRecoverable())
}

func TestIsSyntaxError(t *testing.T) {
	syntax := NewIndexError(ErrorTypeSyntax, "parse", stderrors.New("bad indent"))
	assert.True(t, IsSyntaxError(syntax))
	assert.True(t, IsSyntaxError(fmt.Errorf("wrapped: %w", syntax)))

	assert.False(t, IsSyntaxError(NewIndexError(ErrorTypeAnalysis, "parse", stderrors.New("x"))))

	// Plain errors fall back to message matching.
	assert.True(t, IsSyntaxError(stderrors.New("python syntax error at line 3")))
	assert.False(t, IsSyntaxError(stderrors.New("file not found")))
}
