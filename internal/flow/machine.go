// Package flow runs the Setup, Camera and Review stages of a capture flow.
// It owns the tag selection and the in-memory batch of captured photos
// until they are committed to a PhotoStore or discarded.
package flow

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chairside/chairside/internal/camera/capture"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/events"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/observability/metrics"
	"github.com/chairside/chairside/internal/tagging"
)

// Publisher receives domain events. *events.EventBus implements it.
type Publisher interface {
	Publish(event events.Event) bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithPublisher sets where commit and discard events go.
func WithPublisher(p Publisher) Option {
	return func(m *Machine) { m.bus = p }
}

// WithMetadata sets the vocabulary and tooth history source.
func WithMetadata(s MetadataStore) Option {
	return func(m *Machine) { m.meta = s }
}

// WithPrefill seeds the tags. A procedure routes the flow straight to the
// camera stage.
func WithPrefill(p Prefill) Option {
	return func(m *Machine) { m.prefill = &p }
}

// Machine is one capture flow. It is safe for concurrent use.
type Machine struct {
	store   PhotoStore
	meta    MetadataStore
	log     logger.Logger
	metrics metrics.Recorder
	bus     Publisher
	prefill *Prefill

	mu         sync.Mutex
	id         string
	state      State
	tags       *tagging.Model
	batch      []capture.Photo
	committing bool
	version    uint64
	snap       Snapshot

	feed *events.Feed[Snapshot]
}

// New creates a flow in the setup stage, or in the camera stage when a
// prefill with a procedure is given. An invalid prefilled tooth is an error.
func New(store PhotoStore, opts ...Option) (*Machine, error) {
	m := &Machine{
		store:   store,
		log:     logger.Global().Module("flow"),
		metrics: metrics.NoopRecorder{},
		id:      uuid.NewString(),
		state:   StateSetup,
		tags:    tagging.NewModel(),
		feed:    events.NewFeed[Snapshot](),
	}
	for _, opt := range opts {
		opt(m)
	}

	if p := m.prefill; p != nil {
		tags, err := tagging.NewModelFrom(p.selection())
		if err != nil {
			return nil, err
		}
		m.tags = tags
		if tags.HasAnyTags() {
			m.state = StateCamera
		}
		m.log.Debug("flow prefilled",
			logger.String("flow_id", m.id),
			logger.String("tags", tags.Summary()),
			logger.String("state", m.state.String()))
	}

	m.mu.Lock()
	m.publishLocked()
	m.mu.Unlock()
	return m, nil
}

func (p Prefill) selection() tagging.Selection {
	var sel tagging.Selection
	if p.Procedure != nil {
		sel.Procedure = *p.Procedure
	}
	if p.Stage != nil {
		sel.Stage = *p.Stage
	}
	if p.Angle != nil {
		sel.Angle = *p.Angle
	}
	if p.ToothNumber != nil {
		sel.Tooth = &tagging.Tooth{Number: *p.ToothNumber, Date: time.Now()}
	}
	return sel
}

func (m *Machine) publishLocked() {
	m.version++

	views := make([]PhotoView, 0, len(m.batch))
	keep := 0
	for _, p := range m.batch {
		w, h := p.Size()
		views = append(views, PhotoView{
			ID:         p.ID,
			CapturedAt: p.CapturedAt,
			Rating:     p.Rating,
			Keep:       p.Keep,
			Width:      w,
			Height:     h,
		})
		if p.Keep {
			keep++
		}
	}

	sel := m.tags.Selection()
	m.snap = Snapshot{
		Version:    m.version,
		FlowID:     m.id,
		State:      m.state,
		StateName:  m.state.String(),
		Photos:     views,
		KeepCount:  keep,
		Selection:  sel,
		TagSummary: sel.Summary(),
		HasAllTags: sel.HasAllTags(),
		Committing: m.committing,
		UpdatedAt:  time.Now(),
	}
	m.feed.Publish(m.snap)

	if g, ok := m.metrics.(metrics.GaugeRecorder); ok {
		g.SetGauge(metrics.GaugeFlowState, float64(m.state))
		g.SetGauge(metrics.GaugeBatchSize, float64(len(m.batch)))
	}
}

func (m *Machine) emit(e events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

// setStateLocked moves to s and logs the transition.
func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Info("flow state changed",
		logger.String("flow_id", m.id),
		logger.String("from", m.state.String()),
		logger.String("to", s.String()))
	m.metrics.RecordOperation(metrics.OpTransition, s.String())
	m.state = s
}

// resetLocked starts a fresh flow in the setup stage.
func (m *Machine) resetLocked() {
	m.batch = nil
	m.tags.Reset()
	m.setStateLocked(StateSetup)
	m.id = uuid.NewString()
}

func (m *Machine) checkLocked(op string) error {
	if m.committing {
		return transitionError(ErrCommitInProgress, m.state, op)
	}
	return nil
}

// Snapshot returns the latest snapshot.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe returns a channel of snapshots. Slow readers only see the most
// recent one.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	return m.feed.Subscribe()
}

// State returns the current stage.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartCapturing moves from setup to camera. A procedure must be selected
// unless skip is set.
func (m *Machine) StartCapturing(skip bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSetup {
		return transitionError(ErrInvalidTransition, m.state, "start_capturing")
	}
	if !skip && !m.tags.HasAnyTags() {
		return validationError(ErrProcedureRequired, "start_capturing", "tags", m.tags.Summary())
	}
	m.setStateLocked(StateCamera)
	m.publishLocked()
	return nil
}

// Close leaves the camera stage for setup. With photos in the batch it
// needs confirmed set and the batch is dropped.
func (m *Machine) Close(confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCamera {
		return transitionError(ErrInvalidTransition, m.state, "close")
	}
	if n := len(m.batch); n > 0 {
		if !confirmed {
			return validationError(ErrConfirmationRequired, "close", "batch_size", n)
		}
		m.batch = nil
		m.metrics.RecordOperation(metrics.OpDiscard, metrics.StatusSuccess)
		m.emit(events.BatchDiscarded{FlowID: m.id, Count: n, Timestamp: time.Now()})
	}
	m.setStateLocked(StateSetup)
	m.publishLocked()
	return nil
}

// FinishCapturing moves from camera to review. It does nothing and returns
// false when the batch is empty.
func (m *Machine) FinishCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCamera || len(m.batch) == 0 {
		m.metrics.RecordOperation(metrics.OpTransition, metrics.StatusIgnored)
		return false
	}
	m.setStateLocked(StateReview)
	m.publishLocked()
	return true
}

// BackToCamera returns from review to camera with the batch intact.
func (m *Machine) BackToCamera() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("back_to_camera"); err != nil {
		return err
	}
	if m.state != StateReview {
		return transitionError(ErrInvalidTransition, m.state, "back_to_camera")
	}
	m.setStateLocked(StateCamera)
	m.publishLocked()
	return nil
}

// Discard drops the whole batch from review and starts a fresh flow.
func (m *Machine) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("discard"); err != nil {
		return err
	}
	if m.state != StateReview {
		return transitionError(ErrInvalidTransition, m.state, "discard")
	}

	n := len(m.batch)
	m.emit(events.BatchDiscarded{FlowID: m.id, Count: n, Timestamp: time.Now()})
	m.metrics.RecordOperation(metrics.OpDiscard, metrics.StatusSuccess)
	m.log.Info("batch discarded", logger.String("flow_id", m.id), logger.Int("photos", n))

	m.resetLocked()
	m.publishLocked()
	return nil
}

// Commit saves the photos marked keep, in batch order, and starts a fresh
// flow. Saving stops at the first failure: photos already saved leave the
// batch, the rest stay and the flow remains in review.
func (m *Machine) Commit(ctx context.Context) ([]AssetID, error) {
	m.mu.Lock()
	if err := m.checkLocked(metrics.OpCommit); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.state != StateReview {
		err := transitionError(ErrInvalidTransition, m.state, metrics.OpCommit)
		m.mu.Unlock()
		return nil, err
	}
	if m.store == nil {
		m.mu.Unlock()
		return nil, errors.New(ErrNoPhotoStore).
			Component("flow").
			Category(errors.CategoryStorage).
			Build()
	}
	keep := m.photosToKeepLocked()
	tags := m.tags.Selection()
	flowID := m.id
	m.committing = true
	m.publishLocked()
	m.mu.Unlock()

	start := time.Now()
	saved := make([]AssetID, 0, len(keep))
	savedIDs := make(map[string]bool, len(keep))
	var saveErr error
	for _, p := range keep {
		saveStart := time.Now()
		asset, err := m.store.Save(ctx, p.Image, tags)
		m.metrics.RecordDuration(metrics.OpSave, time.Since(saveStart).Seconds())
		if err != nil {
			m.metrics.RecordOperation(metrics.OpSave, metrics.StatusError)
			saveErr = errors.New(err).
				Component("flow").
				Category(errors.CategoryStorage).
				Context("photo_id", p.ID).
				Context("saved", len(saved)).
				Context("remaining", len(keep)-len(saved)).
				Build()
			break
		}
		m.metrics.RecordOperation(metrics.OpSave, metrics.StatusSuccess)
		saved = append(saved, asset)
		savedIDs[p.ID] = true
	}
	m.metrics.RecordDuration(metrics.OpCommit, time.Since(start).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.committing = false

	if saveErr != nil {
		m.batch = slices.DeleteFunc(m.batch, func(p capture.Photo) bool { return savedIDs[p.ID] })
		m.metrics.RecordOperation(metrics.OpCommit, metrics.StatusError)
		m.metrics.RecordError(metrics.OpCommit, string(errors.CategoryStorage))
		m.log.Warn("commit stopped at first failure",
			logger.String("flow_id", flowID),
			logger.Int("saved", len(saved)),
			logger.Int("remaining", len(m.batch)),
			logger.Error(saveErr))
		m.publishLocked()
		return saved, saveErr
	}

	ids := make([]string, len(saved))
	for i, a := range saved {
		ids[i] = string(a)
	}
	m.emit(events.PhotosCommitted{
		FlowID:     flowID,
		AssetIDs:   ids,
		TagSummary: tags.Summary(),
		Timestamp:  time.Now(),
	})
	m.metrics.RecordOperation(metrics.OpCommit, metrics.StatusSuccess)
	m.log.Info("batch committed",
		logger.String("flow_id", flowID),
		logger.Int("saved", len(saved)),
		logger.String("tags", tags.Summary()))

	m.resetLocked()
	m.publishLocked()
	return saved, nil
}

// AddPhoto appends a captured photo with rating 0, marked keep. Photos are
// accepted in the camera and review stages.
func (m *Machine) AddPhoto(p capture.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(metrics.OpAddPhoto); err != nil {
		return err
	}
	if m.state == StateSetup {
		m.metrics.RecordOperation(metrics.OpAddPhoto, metrics.StatusRejected)
		return transitionError(ErrInvalidTransition, m.state, metrics.OpAddPhoto)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if m.indexLocked(p.ID) >= 0 {
		m.metrics.RecordOperation(metrics.OpAddPhoto, metrics.StatusRejected)
		return errors.New(ErrDuplicatePhoto).
			Component("flow").
			Category(errors.CategoryConflict).
			Context("photo_id", p.ID).
			Build()
	}
	if p.CapturedAt.IsZero() {
		p.CapturedAt = time.Now()
	}
	p.Rating = 0
	p.Keep = true

	m.batch = append(m.batch, p)
	m.metrics.RecordOperation(metrics.OpAddPhoto, metrics.StatusSuccess)
	m.log.Debug("photo added",
		logger.String("flow_id", m.id),
		logger.String("photo_id", p.ID),
		logger.Int("batch_size", len(m.batch)))
	m.publishLocked()
	return nil
}

func (m *Machine) indexLocked(id string) int {
	return slices.IndexFunc(m.batch, func(p capture.Photo) bool { return p.ID == id })
}

// RemovePhoto drops a photo from the batch.
func (m *Machine) RemovePhoto(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(metrics.OpRemove); err != nil {
		return err
	}
	i := m.indexLocked(id)
	if i < 0 {
		return notFound(id)
	}
	m.batch = slices.Delete(m.batch, i, i+1)
	m.metrics.RecordOperation(metrics.OpRemove, metrics.StatusSuccess)
	m.publishLocked()
	return nil
}

// ToggleKeep flips the keep flag of a photo and returns the new value.
func (m *Machine) ToggleKeep(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("toggle_keep"); err != nil {
		return false, err
	}
	i := m.indexLocked(id)
	if i < 0 {
		return false, notFound(id)
	}
	m.batch[i].Keep = !m.batch[i].Keep
	m.publishLocked()
	return m.batch[i].Keep, nil
}

// SetRating sets a photo's rating, 0 to capture.MaxRating.
func (m *Machine) SetRating(rating int, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("set_rating"); err != nil {
		return err
	}
	if rating < 0 || rating > capture.MaxRating {
		return validationError(ErrInvalidRating, "set_rating", "rating", rating)
	}
	i := m.indexLocked(id)
	if i < 0 {
		return notFound(id)
	}
	m.batch[i].Rating = rating
	m.publishLocked()
	return nil
}

// Photos returns the batch in capture order.
func (m *Machine) Photos() []capture.Photo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.batch)
}

// PhotosToKeep returns the photos marked keep, in capture order.
func (m *Machine) PhotosToKeep() []capture.Photo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.photosToKeepLocked()
}

func (m *Machine) photosToKeepLocked() []capture.Photo {
	out := make([]capture.Photo, 0, len(m.batch))
	for _, p := range m.batch {
		if p.Keep {
			out = append(out, p)
		}
	}
	return out
}

// Selection returns the current tags.
func (m *Machine) Selection() tagging.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags.Selection()
}

// TagSummary returns the one-line tag summary.
func (m *Machine) TagSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags.Summary()
}

// UpdateTags edits the tag selection. Changes made by fn are kept even when
// it returns an error.
func (m *Machine) UpdateTags(fn func(t *tagging.Model) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("update_tags"); err != nil {
		return err
	}
	err := fn(m.tags)
	m.publishLocked()
	return err
}

// Vocabulary returns the tag values offered during setup. It is empty
// without a metadata store.
func (m *Machine) Vocabulary() Vocabulary {
	if m.meta == nil {
		return Vocabulary{}
	}
	return Vocabulary{
		Procedures: m.meta.Procedures(),
		Stages:     m.meta.Stages(),
		Angles:     m.meta.Angles(),
	}
}

// ToothSuggestions returns the tooth history for the selected procedure.
func (m *Machine) ToothSuggestions(ctx context.Context) ([]ToothRecord, error) {
	procedure := m.Selection().Procedure
	if m.meta == nil || procedure == "" {
		return nil, nil
	}
	return m.meta.ToothHistory(ctx, procedure)
}

// ConsumeCapture waits for the capture identified by token and adds the
// photo to the batch. A failed capture leaves the batch untouched. If the
// photo arrives while a commit is running, or after the flow left the
// camera, it is not added; the photo is returned with the error so the
// caller can add it later.
func (m *Machine) ConsumeCapture(ctx context.Context, src Awaiter, token capture.Token) (capture.Photo, error) {
	photo, err := src.Await(ctx, token)
	if err != nil {
		m.log.Warn("capture not added to batch",
			logger.String("token", token.String()),
			logger.String("reason", capture.FailureReason(err)),
			logger.Error(err))
		return capture.Photo{}, err
	}
	if err := m.AddPhoto(photo); err != nil {
		m.log.Warn("captured photo not added to batch",
			logger.String("token", token.String()),
			logger.String("photo_id", photo.ID),
			logger.Error(err))
		return photo, err
	}
	return photo, nil
}

// Capture takes one photo with cam and adds it to the batch.
func (m *Machine) Capture(ctx context.Context, cam Camera, flash device.FlashMode) (capture.Photo, error) {
	if s := m.State(); s != StateCamera {
		return capture.Photo{}, transitionError(ErrInvalidTransition, s, metrics.OpCapture)
	}
	token, err := cam.CapturePhoto(ctx, flash)
	if err != nil {
		return capture.Photo{}, err
	}
	return m.ConsumeCapture(ctx, cam, token)
}

// Shutdown closes subscriber channels.
func (m *Machine) Shutdown() {
	m.feed.Close()
}
