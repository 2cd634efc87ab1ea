package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 120, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func newTestCorrelator(t *testing.T, timeout time.Duration, hooks Hooks) *Correlator {
	t.Helper()
	c := NewCorrelator(Config{Timeout: timeout, Hooks: hooks}, logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC))
	t.Cleanup(c.Close)
	return c
}

func TestCompleteDecodesPhoto(t *testing.T) {
	c := newTestCorrelator(t, time.Second, Hooks{})

	token, err := c.Begin()
	require.NoError(t, err)
	assert.True(t, c.InFlight())

	require.NoError(t, c.Complete(token, jpegBytes(t, 40, 30), nil))
	assert.False(t, c.InFlight())

	photo, err := c.Await(context.Background(), token)
	require.NoError(t, err)
	w, h := photo.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
	assert.Equal(t, token, photo.Token)
	assert.NotEmpty(t, photo.ID)
	assert.True(t, photo.Keep)
	assert.Zero(t, photo.Rating)
	assert.False(t, photo.CapturedAt.IsZero())

	thumb := photo.Thumbnail(20)
	assert.LessOrEqual(t, thumb.Bounds().Dx(), 20)
}

func TestDecodesPNG(t *testing.T) {
	c := newTestCorrelator(t, time.Second, Hooks{})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 4))))

	token, err := c.Begin()
	require.NoError(t, err)
	require.NoError(t, c.Complete(token, buf.Bytes(), nil))

	photo, err := c.Await(context.Background(), token)
	require.NoError(t, err)
	w, _ := photo.Size()
	assert.Equal(t, 8, w)
}

func TestSingleInFlight(t *testing.T) {
	c := newTestCorrelator(t, time.Second, Hooks{})

	first, err := c.Begin()
	require.NoError(t, err)

	_, err = c.Begin()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaptureInFlight)

	require.NoError(t, c.Complete(first, jpegBytes(t, 4, 4), nil))

	second, err := c.Begin()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, c.Complete(second, nil, ErrHardware))
}

func TestFailuresResolveWithoutPhoto(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		hwErr  error
		reason string
		target error
	}{
		{"corrupt bytes", []byte("garbage"), nil, ReasonDecode, ErrDecode},
		{"empty payload", nil, nil, ReasonDecode, ErrDecode},
		{"hardware error", nil, context.DeadlineExceeded, ReasonHardware, ErrHardware},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCorrelator(t, time.Second, Hooks{})
			token, err := c.Begin()
			require.NoError(t, err)

			require.NoError(t, c.Complete(token, tt.raw, tt.hwErr))

			photo, err := c.Await(context.Background(), token)
			require.Error(t, err)
			assert.Nil(t, photo.Image)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, errors.IsCategory(err, errors.CategoryCaptureFailed))
			assert.Equal(t, tt.reason, FailureReason(err))

			_, err = c.Begin()
			assert.NoError(t, err, "retry allowed right away")
		})
	}
}

func TestDuplicateCompletionIsIgnored(t *testing.T) {
	var mu sync.Mutex
	var resolved int
	var violations []string
	c := newTestCorrelator(t, time.Second, Hooks{
		OnResolve: func(Token, Photo, error, time.Duration) {
			mu.Lock()
			resolved++
			mu.Unlock()
		},
		OnViolation: func(_ Token, reason string) {
			mu.Lock()
			violations = append(violations, reason)
			mu.Unlock()
		},
	})

	token, err := c.Begin()
	require.NoError(t, err)
	raw := jpegBytes(t, 4, 4)

	require.NoError(t, c.Complete(token, raw, nil))
	err = c.Complete(token, raw, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryProtocolViolation))

	_, err = c.Await(context.Background(), token)
	require.NoError(t, err)

	// still a duplicate after the result was consumed
	err = c.Complete(token, raw, nil)
	assert.Equal(t, ReasonDuplicate, FailureReason(err))

	err = c.Complete(Token("never-issued"), raw, nil)
	assert.Equal(t, ReasonUnknown, FailureReason(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, resolved)
	assert.Equal(t, []string{ReasonDuplicate, ReasonDuplicate, ReasonUnknown}, violations)
}

func TestTimeoutResolvesCaptureFailed(t *testing.T) {
	c := newTestCorrelator(t, 20*time.Millisecond, Hooks{})

	token, err := c.Begin()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = c.Await(ctx, token)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ReasonTimeout, FailureReason(err))
	assert.False(t, c.InFlight())

	err = c.Complete(token, jpegBytes(t, 4, 4), nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryProtocolViolation), "late completion")
}

func TestAwaitSingleConsumer(t *testing.T) {
	c := newTestCorrelator(t, time.Second, Hooks{})

	_, err := c.Await(context.Background(), Token("nope"))
	assert.ErrorIs(t, err, ErrUnknownToken)

	token, err := c.Begin()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Await(ctx, token)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	require.NoError(t, c.Complete(token, jpegBytes(t, 4, 4), nil))
	_, err = c.Await(context.Background(), token)
	require.NoError(t, err, "cancelled await leaves the result for a later one")

	_, err = c.Await(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestCloseFailsPending(t *testing.T) {
	c := NewCorrelator(Config{Timeout: time.Minute}, logger.NewSlogLogger(nil, logger.LogLevelInfo, time.UTC))

	token, err := c.Begin()
	require.NoError(t, err)
	c.Close()

	_, err = c.Await(context.Background(), token)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.Begin()
	assert.ErrorIs(t, err, ErrClosed)
}
