package starlink

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "atask", KindAtask.String())
	assert.Equal(t, "parameter", KindParameter.String())
	assert.Equal(t, "workspace", KindWorkspace.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestErrorMessages(t *testing.T) {
	err := Errorf(KindParameter, "SNR must be between %g and %g", 0.0, 1000.0)
	assert.Equal(t, "SNR must be between 0 and 1000", err.Error())

	cause := errors.New("permission denied")
	wrapped := Wrap(KindWorkspace, cause, "cannot create %s", "/tmp/x")
	assert.Equal(t, "cannot create /tmp/x: permission denied", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestIsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("step 7: %w", Errorf(KindAtask, "boom"))
	assert.True(t, IsKind(err, KindAtask))
	assert.False(t, IsKind(err, KindParameter))
	assert.False(t, IsKind(errors.New("plain"), KindAtask))
}

func TestTrace(t *testing.T) {
	err := &Error{Kind: KindAtask, Command: "$KAPPA_DIR/paste in=x out=y", Output: "line1\n!! bad\n"}
	trace := err.Trace()
	assert.True(t, strings.Contains(trace, "command: $KAPPA_DIR/paste in=x out=y"))
	assert.True(t, strings.Contains(trace, "output:\nline1\n!! bad"))
}

func TestErrorReport(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"none", "all fine\n", ""},
		{"single", "!! failed", "!! failed"},
		{"indented continuation", "x\n  !! one\n  !  two\nthree\n! stray", "!! one\n!  two"},
		{"two reports", "!! a\nok\n!! b", "!! a\n!! b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorReport(tc.output))
		})
	}
}
