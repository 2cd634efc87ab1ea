package app

import (
	"context"
	"fmt"

	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/camera/session"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/flow"
	"github.com/chairside/chairside/internal/logger"
)

// ErrAccessNotGranted is returned by RunSession when the camera may not be
// used. The settings hint tells the operator how to change that.
var ErrAccessNotGranted = errors.NewStd("camera access not granted")

// ErrNothingCaptured is returned when every capture of a run failed.
var ErrNothingCaptured = errors.NewStd("no photos captured")

// SettingsHint is shown after a denied or restricted permission request.
const SettingsHint = "camera access is off for chairside; allow it in the system settings " +
	"or set camera.access to authorized"

// Script describes one unattended capture run.
type Script struct {
	Prefill flow.Prefill
	Shots   int
	Flash   device.FlashMode
	Zoom    float64
	// Discard throws the batch away instead of committing it.
	Discard bool
	// Progress, if set, is called after every capture attempt.
	Progress func(shot, total int, err error)
}

// Result summarizes a finished run.
type Result struct {
	FlowID   string
	Captured int
	Failed   int
	Assets   []flow.AssetID
	Tags     string
}

// RunSession asks for camera access, starts the session and runs one flow
// through setup, camera, review and commit. Failed captures are counted
// and skipped.
func (a *App) RunSession(ctx context.Context, s Script) (Result, error) {
	log := a.log.With(logger.Int("shots", s.Shots))

	auth, err := a.Session.RequestPermission(ctx)
	if err != nil {
		return Result{}, err
	}
	if auth != session.AuthAuthorized {
		return Result{}, errors.New(ErrAccessNotGranted).
			Component("app").
			Category(errors.CategoryPermissionDenied).
			Context("authorization", string(auth)).
			Build()
	}

	if err := a.Session.StartAndWait(ctx); err != nil {
		return Result{}, err
	}
	if s.Zoom > 0 {
		if _, err := a.Session.SetZoom(ctx, s.Zoom); err != nil {
			log.Warn("zoom not applied", logger.Error(err))
		}
	}

	m, err := a.NewFlow(&s.Prefill)
	if err != nil {
		return Result{}, err
	}
	if m.State() == flow.StateSetup {
		if err := m.StartCapturing(true); err != nil {
			return Result{}, err
		}
	}

	res := Result{FlowID: m.Snapshot().FlowID, Tags: m.TagSummary()}
	for i := range s.Shots {
		photo, err := m.Capture(ctx, a.Session, s.Flash)
		if s.Progress != nil {
			s.Progress(i+1, s.Shots, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			log.Warn("capture failed", logger.Int("shot", i+1), logger.Error(err))
			continue
		}
		res.Captured++
		log.Debug("captured", logger.Int("shot", i+1), logger.String("photo_id", photo.ID))
	}

	if !m.FinishCapturing() {
		_ = a.Session.StopAndWait(ctx)
		return res, errors.New(ErrNothingCaptured).
			Component("app").
			Category(errors.CategoryCaptureFailed).
			Context("failed", res.Failed).
			Build()
	}

	if s.Discard {
		if err := m.Discard(); err != nil {
			return res, err
		}
	} else {
		ids, err := m.Commit(ctx)
		res.Assets = ids
		if err != nil {
			return res, err
		}
	}

	if err := a.Session.StopAndWait(ctx); err != nil {
		return res, err
	}
	log.Info("session finished",
		logger.String("flow_id", res.FlowID),
		logger.Int("captured", res.Captured),
		logger.Int("failed", res.Failed),
		logger.Int("saved", len(res.Assets)))
	return res, nil
}

// String renders the result for the terminal.
func (r Result) String() string {
	return fmt.Sprintf("flow %s: %d captured, %d failed, %d saved [%s]",
		r.FlowID, r.Captured, r.Failed, len(r.Assets), r.Tags)
}
