package permission

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/camera/session"
	"github.com/chairside/chairside/internal/errors"
)

func TestStaticCountsCalls(t *testing.T) {
	s := &Static{State: session.AuthDenied}

	got, err := s.RequestCameraAccess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.AuthDenied, got)

	_, _ = s.RequestCameraAccess(context.Background())
	assert.Equal(t, 2, s.Calls())
}

func TestStaticHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := (&Static{State: session.AuthAuthorized}).RequestCameraAccess(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.AuthNotDetermined, got)
}

func TestPromptAnswers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  session.AuthorizationState
	}{
		{"yes", "y\n", session.AuthAuthorized},
		{"yes uppercase", "  YES\n", session.AuthAuthorized},
		{"no", "n\n", session.AuthDenied},
		{"empty", "\n", session.AuthDenied},
		{"eof", "", session.AuthDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := &Prompt{In: strings.NewReader(tt.input), Out: &out, FD: -1}

			got, err := p.RequestCameraAccess(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "camera")
		})
	}
}

func TestPromptWithoutTerminalIsRestricted(t *testing.T) {
	p := &Prompt{In: strings.NewReader("y\n"), Out: &bytes.Buffer{}, FD: 1 << 20}

	got, err := p.RequestCameraAccess(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTerminal)
	assert.True(t, errors.IsCategory(err, errors.CategoryPermissionDenied))
	assert.Equal(t, session.AuthRestricted, got)
}
