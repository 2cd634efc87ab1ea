// Package capture matches the single in-flight capture request to its
// asynchronous completion and decodes the result.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
)

// DefaultTimeout bounds how long a capture may stay in flight.
const DefaultTimeout = 10 * time.Second

const (
	// recentTokens is how many resolved tokens are remembered to tell a
	// duplicate completion from one for a token never issued.
	recentTokens = 64
	// maxUnclaimed is how many resolved but never awaited results are kept.
	maxUnclaimed = 16
)

// Token identifies one capture request.
type Token string

func (t Token) String() string { return string(t) }

// Hooks are called after resolution, outside the correlator lock.
type Hooks struct {
	// OnResolve receives every resolution, successful or not.
	OnResolve func(token Token, photo Photo, err error, elapsed time.Duration)
	// OnViolation receives duplicate and unknown completions.
	OnViolation func(token Token, reason string)
}

// Config holds correlator settings.
type Config struct {
	Timeout time.Duration
	Hooks   Hooks
}

type result struct {
	photo Photo
	err   error
}

type request struct {
	token   Token
	issued  time.Time
	timer   *time.Timer
	claimed bool
	awaited bool
	done    chan result
}

// Correlator allows one capture in flight. Each token resolves exactly once,
// by completion, timeout or Close.
type Correlator struct {
	timeout time.Duration
	hooks   Hooks
	log     logger.Logger

	mu       sync.Mutex
	pending  *request
	requests map[Token]*request
	order    []Token
	recent   []Token
	closed   bool
}

// NewCorrelator creates a correlator. A nil logger uses the global one.
func NewCorrelator(cfg Config, log logger.Logger) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Global().Module("camera").Module("capture")
	}
	return &Correlator{
		timeout:  cfg.Timeout,
		hooks:    cfg.Hooks,
		log:      log,
		requests: make(map[Token]*request),
	}
}

// Begin reserves the capture slot and issues a token.
func (c *Correlator) Begin() (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", captureFailed(ErrClosed, "", ReasonClosed)
	}
	if c.pending != nil {
		return "", errors.New(ErrCaptureInFlight).
			Component("camera.capture").
			Category(errors.CategoryState).
			Context("pending_token", string(c.pending.token)).
			Build()
	}

	token := Token(uuid.NewString())
	req := &request{
		token:  token,
		issued: time.Now(),
		done:   make(chan result, 1),
	}
	req.timer = time.AfterFunc(c.timeout, func() { c.expire(token) })

	c.pending = req
	c.requests[token] = req
	c.order = append(c.order, token)
	c.pruneLocked()

	c.log.Debug("capture requested", logger.String("token", string(token)))
	return token, nil
}

// pruneLocked drops the oldest results nobody awaited.
func (c *Correlator) pruneLocked() {
	for len(c.order) > maxUnclaimed {
		oldest := c.order[0]
		if req, ok := c.requests[oldest]; ok && req == c.pending {
			return
		}
		c.order = c.order[1:]
		delete(c.requests, oldest)
	}
}

// InFlight reports whether the slot is taken.
func (c *Correlator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// claim marks the request as being resolved. Only the first claim per token
// succeeds.
func (c *Correlator) claim(token Token) (*request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[token]
	switch {
	case ok && !req.claimed:
		req.claimed = true
		req.timer.Stop()
		return req, nil
	case ok, c.wasResolvedLocked(token):
		return nil, protocolViolation(token, ReasonDuplicate)
	default:
		return nil, protocolViolation(token, ReasonUnknown)
	}
}

func (c *Correlator) wasResolvedLocked(token Token) bool {
	for _, t := range c.recent {
		if t == token {
			return true
		}
	}
	return false
}

// Complete delivers the hardware output for token. raw is decoded honouring
// EXIF orientation. A completion for a token that was already resolved or
// never issued returns a protocol violation and changes nothing.
func (c *Correlator) Complete(token Token, raw []byte, hwErr error) error {
	req, err := c.claim(token)
	if err != nil {
		reason := FailureReason(err)
		c.log.Warn("ignoring capture completion",
			logger.String("token", string(token)),
			logger.String("reason", reason))
		if c.hooks.OnViolation != nil {
			c.hooks.OnViolation(token, reason)
		}
		return err
	}

	var res result
	switch {
	case hwErr != nil:
		res.err = captureFailed(fmt.Errorf("%w: %w", ErrHardware, hwErr), token, ReasonHardware)
	case len(raw) == 0:
		res.err = captureFailed(fmt.Errorf("%w: empty payload", ErrDecode), token, ReasonDecode)
	default:
		img, derr := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
		if derr != nil {
			res.err = captureFailed(fmt.Errorf("%w: %w", ErrDecode, derr), token, ReasonDecode)
		} else {
			res.photo = Photo{
				ID:         uuid.NewString(),
				Token:      token,
				Image:      img,
				CapturedAt: time.Now(),
				Keep:       true,
			}
		}
	}

	c.resolve(req, res)
	return nil
}

func (c *Correlator) expire(token Token) {
	c.mu.Lock()
	req, ok := c.requests[token]
	if !ok || req.claimed {
		c.mu.Unlock()
		return
	}
	req.claimed = true
	c.mu.Unlock()

	c.log.Warn("capture timed out",
		logger.String("token", string(token)),
		logger.Duration("timeout", c.timeout))
	c.resolve(req, result{err: captureFailed(ErrTimeout, token, ReasonTimeout)})
}

func (c *Correlator) resolve(req *request, res result) {
	elapsed := time.Since(req.issued)

	c.mu.Lock()
	if c.pending == req {
		c.pending = nil
	}
	c.recent = append(c.recent, req.token)
	if len(c.recent) > recentTokens {
		c.recent = c.recent[len(c.recent)-recentTokens:]
	}
	c.mu.Unlock()

	req.done <- res

	if res.err != nil {
		c.log.Info("capture failed",
			logger.String("token", string(req.token)),
			logger.String("reason", FailureReason(res.err)),
			logger.Duration("elapsed", elapsed))
	} else {
		w, h := res.photo.Size()
		c.log.Debug("capture completed",
			logger.String("token", string(req.token)),
			logger.Int("width", w),
			logger.Int("height", h),
			logger.Duration("elapsed", elapsed))
	}

	if c.hooks.OnResolve != nil {
		c.hooks.OnResolve(req.token, res.photo, res.err, elapsed)
	}
}

// Await blocks until token resolves or ctx ends. Each token has a single
// consumer; once its result was received the token is forgotten.
func (c *Correlator) Await(ctx context.Context, token Token) (Photo, error) {
	c.mu.Lock()
	req, ok := c.requests[token]
	if ok && req.awaited {
		ok = false
	}
	if ok {
		req.awaited = true
	}
	c.mu.Unlock()

	if !ok {
		return Photo{}, errors.New(ErrUnknownToken).
			Component("camera.capture").
			Category(errors.CategoryState).
			Context("token", string(token)).
			Build()
	}

	select {
	case res := <-req.done:
		c.mu.Lock()
		delete(c.requests, token)
		c.removeOrderLocked(token)
		c.mu.Unlock()
		return res.photo, res.err
	case <-ctx.Done():
		c.mu.Lock()
		req.awaited = false
		c.mu.Unlock()
		return Photo{}, errors.New(ctx.Err()).
			Component("camera.capture").
			Category(errors.CategoryCancellation).
			Context("token", string(token)).
			Build()
	}
}

func (c *Correlator) removeOrderLocked(token Token) {
	for i, t := range c.order {
		if t == token {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Close fails the pending capture, if any, and rejects new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	req := c.pending
	if req != nil && !req.claimed {
		req.claimed = true
		req.timer.Stop()
	} else {
		req = nil
	}
	c.mu.Unlock()

	if req != nil {
		c.resolve(req, result{err: captureFailed(ErrClosed, req.token, ReasonClosed)})
	}
}
