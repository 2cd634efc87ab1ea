// Package permission provides camera access providers for the capture
// session.
package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/chairside/chairside/internal/camera/session"
	"github.com/chairside/chairside/internal/errors"
)

// ErrNoTerminal is returned when a prompt is needed but stdin is not a
// terminal.
var ErrNoTerminal = errors.NewStd("camera access prompt requires a terminal")

// Static answers every request with the same state. It counts prompts so
// callers can check they were not asked twice.
type Static struct {
	State session.AuthorizationState
	Err   error

	mu    sync.Mutex
	calls int
}

// RequestCameraAccess implements session.PermissionProvider.
func (s *Static) RequestCameraAccess(ctx context.Context) (session.AuthorizationState, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return session.AuthNotDetermined, err
	}
	if s.Err != nil {
		return session.AuthNotDetermined, s.Err
	}
	return s.State, nil
}

// Calls returns how many times access was requested.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompt asks the operator on a terminal.
type Prompt struct {
	In  io.Reader
	Out io.Writer
	// FD is checked with term.IsTerminal. A negative FD skips the check.
	FD int
}

// NewTerminalPrompt prompts on stdin and stderr.
func NewTerminalPrompt() *Prompt {
	return &Prompt{In: os.Stdin, Out: os.Stderr, FD: int(os.Stdin.Fd())}
}

// RequestCameraAccess implements session.PermissionProvider. Answers
// starting with "y" authorize; anything else denies.
func (p *Prompt) RequestCameraAccess(ctx context.Context) (session.AuthorizationState, error) {
	if p.FD >= 0 && !term.IsTerminal(p.FD) {
		return session.AuthRestricted, errors.New(ErrNoTerminal).
			Component("camera.permission").
			Category(errors.CategoryPermissionDenied).
			Build()
	}

	if _, err := fmt.Fprint(p.Out, "Allow chairside to use the camera? [y/N] "); err != nil {
		return session.AuthNotDetermined, err
	}

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.In).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return session.AuthNotDetermined, ctx.Err()
	case line := <-answer:
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
			return session.AuthAuthorized, nil
		}
		return session.AuthDenied, nil
	}
}
