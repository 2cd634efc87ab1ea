package flow

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/camera/capture"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/events"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/observability/metrics"
	"github.com/chairside/chairside/internal/tagging"
)

type memoryStore struct {
	mu     sync.Mutex
	saved  []tagging.Selection
	failAt int
}

func (s *memoryStore) Save(ctx context.Context, img image.Image, tags tagging.Selection) (AssetID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.saved)+1 == s.failAt {
		s.failAt = 0
		return "", fmt.Errorf("disk full")
	}
	s.saved = append(s.saved, tags)
	return AssetID(fmt.Sprintf("asset-%d", len(s.saved))), nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type eventLog struct {
	mu  sync.Mutex
	got []events.Event
}

func (l *eventLog) Publish(e events.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, e)
	return true
}

func (l *eventLog) last() events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.got) == 0 {
		return nil
	}
	return l.got[len(l.got)-1]
}

type fakeCamera struct {
	next    int
	results map[capture.Token]error
}

func (c *fakeCamera) CapturePhoto(ctx context.Context, flash device.FlashMode) (capture.Token, error) {
	c.next++
	return capture.Token(fmt.Sprintf("t%d", c.next)), nil
}

func (c *fakeCamera) Await(ctx context.Context, token capture.Token) (capture.Photo, error) {
	if err := c.results[token]; err != nil {
		return capture.Photo{}, err
	}
	return newPhoto(string(token)), nil
}

func newPhoto(id string) capture.Photo {
	return capture.Photo{
		ID:         id,
		Image:      image.NewRGBA(image.Rect(0, 0, 4, 3)),
		CapturedAt: time.Now(),
		Rating:     3,
		Keep:       false,
	}
}

func newMachine(t *testing.T, store PhotoStore, opts ...Option) *Machine {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC))}, opts...)
	m, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func ptr[T any](v T) *T { return &v }

func inCamera(t *testing.T, store PhotoStore, opts ...Option) *Machine {
	t.Helper()
	m := newMachine(t, store, opts...)
	require.NoError(t, m.StartCapturing(true))
	return m
}

func TestPrefilledFlowScenario(t *testing.T) {
	m := newMachine(t, &memoryStore{}, WithPrefill(Prefill{
		Procedure:   ptr("Class 1"),
		Stage:       ptr("Preparation"),
		Angle:       ptr("Occlusal"),
		ToothNumber: ptr(14),
	}))
	require.Equal(t, StateCamera, m.State())
	assert.Equal(t, "Class 1 • #14 • Prep • Occ", m.TagSummary())
	assert.True(t, m.Snapshot().HasAllTags)

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, m.AddPhoto(newPhoto(id)))
	}
	require.Len(t, m.Photos(), 3)

	require.NoError(t, m.RemovePhoto("p2"))
	photos := m.Photos()
	require.Len(t, photos, 2)
	assert.Equal(t, "p1", photos[0].ID)
	assert.Equal(t, "p3", photos[1].ID)

	assert.True(t, m.FinishCapturing())
	assert.Equal(t, StateReview, m.State())
}

func TestPrefillWithoutProcedureStaysInSetup(t *testing.T) {
	m := newMachine(t, &memoryStore{}, WithPrefill(Prefill{Stage: ptr("Isolation")}))
	assert.Equal(t, StateSetup, m.State())
	assert.Equal(t, "Iso", m.TagSummary())
}

func TestPrefillBlankProcedureStaysInSetup(t *testing.T) {
	for _, blank := range []string{"", "   "} {
		m := newMachine(t, &memoryStore{}, WithPrefill(Prefill{Procedure: ptr(blank), Stage: ptr("Isolation")}))
		assert.Equal(t, StateSetup, m.State(), "procedure %q", blank)
		assert.Equal(t, "Iso", m.TagSummary())
	}
}

func TestPrefillRejectsInvalidTooth(t *testing.T) {
	_, err := New(&memoryStore{}, WithPrefill(Prefill{Procedure: ptr("Class 2"), ToothNumber: ptr(40)}))
	require.Error(t, err)
	assert.ErrorIs(t, err, tagging.ErrInvalidTooth)

	_, err = New(&memoryStore{}, WithPrefill(Prefill{ToothNumber: ptr(3)}))
	assert.ErrorIs(t, err, tagging.ErrNoProcedure)
}

func TestStartCapturingNeedsProcedureOrSkip(t *testing.T) {
	m := newMachine(t, &memoryStore{})

	err := m.StartCapturing(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcedureRequired)
	assert.Equal(t, StateSetup, m.State())

	require.NoError(t, m.UpdateTags(func(tm *tagging.Model) error {
		tm.SelectProcedure("Crown Prep")
		return nil
	}))
	require.NoError(t, m.StartCapturing(false))
	assert.Equal(t, StateCamera, m.State())

	err = m.StartCapturing(false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFinishCapturingGuard(t *testing.T) {
	rec := metrics.NewTestRecorder()
	m := inCamera(t, &memoryStore{}, WithMetrics(rec))

	assert.False(t, m.FinishCapturing())
	assert.Equal(t, StateCamera, m.State())
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpTransition, metrics.StatusIgnored))

	require.NoError(t, m.AddPhoto(newPhoto("a")))
	assert.True(t, m.FinishCapturing())
	assert.Equal(t, StateReview, m.State())

	require.NoError(t, m.BackToCamera())
	assert.Equal(t, StateCamera, m.State())
	assert.Len(t, m.Photos(), 1)
}

func TestCloseRequiresConfirmationWithPhotos(t *testing.T) {
	bus := &eventLog{}
	m := inCamera(t, &memoryStore{}, WithPublisher(bus))

	require.NoError(t, m.Close(false))
	assert.Equal(t, StateSetup, m.State())

	require.NoError(t, m.StartCapturing(true))
	require.NoError(t, m.AddPhoto(newPhoto("a")))

	err := m.Close(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, StateCamera, m.State())
	assert.Len(t, m.Photos(), 1)

	require.NoError(t, m.Close(true))
	assert.Equal(t, StateSetup, m.State())
	assert.Empty(t, m.Photos())
	discarded, ok := bus.last().(events.BatchDiscarded)
	require.True(t, ok)
	assert.Equal(t, 1, discarded.Count)
}

func TestAddPhotoDefaults(t *testing.T) {
	m := inCamera(t, &memoryStore{})

	require.NoError(t, m.AddPhoto(newPhoto("a")))
	p := m.Photos()[0]
	assert.Equal(t, 0, p.Rating)
	assert.True(t, p.Keep)

	err := m.AddPhoto(newPhoto("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePhoto)
	assert.Len(t, m.Photos(), 1)
}

func TestAddPhotoRejectedDuringSetup(t *testing.T) {
	m := newMachine(t, &memoryStore{})
	err := m.AddPhoto(newPhoto("a"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBatchOperationsById(t *testing.T) {
	m := inCamera(t, &memoryStore{})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddPhoto(newPhoto(id)))
	}

	keep, err := m.ToggleKeep("b")
	require.NoError(t, err)
	assert.False(t, keep)

	require.NoError(t, m.SetRating(5, "c"))
	assert.ErrorIs(t, m.SetRating(6, "c"), ErrInvalidRating)
	assert.ErrorIs(t, m.SetRating(-1, "c"), ErrInvalidRating)

	err = m.SetRating(2, "missing")
	assert.ErrorIs(t, err, ErrPhotoNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	_, err = m.ToggleKeep("missing")
	assert.ErrorIs(t, err, ErrPhotoNotFound)
	assert.ErrorIs(t, m.RemovePhoto("missing"), ErrPhotoNotFound)

	kept := m.PhotosToKeep()
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, "c", kept[1].ID)
	assert.Equal(t, 5, kept[1].Rating)

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.KeepCount)
	require.Len(t, snap.Photos, 3)
	assert.Equal(t, 4, snap.Photos[0].Width)
}

func TestBatchInvariantsUnderRandomOperations(t *testing.T) {
	m := inCamera(t, &memoryStore{})
	rng := rand.New(rand.NewPCG(1, 2))

	adds, removes := 0, 0
	for i := range 500 {
		photos := m.Photos()
		switch op := rng.IntN(4); {
		case op == 0 || len(photos) == 0:
			require.NoError(t, m.AddPhoto(newPhoto(fmt.Sprintf("p%d", i))))
			adds++
		case op == 1:
			require.NoError(t, m.RemovePhoto(photos[rng.IntN(len(photos))].ID))
			removes++
		case op == 2:
			_, err := m.ToggleKeep(photos[rng.IntN(len(photos))].ID)
			require.NoError(t, err)
		default:
			require.NoError(t, m.SetRating(rng.IntN(capture.MaxRating+1), photos[rng.IntN(len(photos))].ID))
		}

		all := m.Photos()
		require.Len(t, all, adds-removes)

		var want []string
		for _, p := range all {
			if p.Keep {
				want = append(want, p.ID)
			}
		}
		var got []string
		for _, p := range m.PhotosToKeep() {
			got = append(got, p.ID)
		}
		require.Equal(t, want, got)
	}
}

type gatedStore struct {
	memoryStore
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, img image.Image, tags tagging.Selection) (AssetID, error) {
	s.entered <- struct{}{}
	<-s.gate
	return s.memoryStore.Save(ctx, img, tags)
}

func TestCaptureDuringCommitIsReturnedNotLost(t *testing.T) {
	store := &gatedStore{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	m := reviewWith(t, store, []string{"a"})

	var wg sync.WaitGroup
	wg.Go(func() {
		_, err := m.Commit(context.Background())
		assert.NoError(t, err)
	})
	<-store.entered
	require.True(t, m.Snapshot().Committing)

	photo, err := m.ConsumeCapture(context.Background(), &fakeCamera{}, "late")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitInProgress)
	assert.Equal(t, "late", photo.ID)
	assert.NotNil(t, photo.Image)

	close(store.gate)
	wg.Wait()
	assert.Equal(t, 1, store.count())
}

func reviewWith(t *testing.T, store PhotoStore, ids []string, opts ...Option) *Machine {
	t.Helper()
	m := newMachine(t, store, append(opts, WithPrefill(Prefill{Procedure: ptr("Class 2"), ToothNumber: ptr(3)}))...)
	for _, id := range ids {
		require.NoError(t, m.AddPhoto(newPhoto(id)))
	}
	require.True(t, m.FinishCapturing())
	return m
}

func TestCommitSavesKeptPhotosAndResets(t *testing.T) {
	store := &memoryStore{}
	bus := &eventLog{}
	rec := metrics.NewTestRecorder()
	m := reviewWith(t, store, []string{"a", "b", "c"}, WithPublisher(bus), WithMetrics(rec))
	oldID := m.Snapshot().FlowID

	_, err := m.ToggleKeep("b")
	require.NoError(t, err)

	assets, err := m.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AssetID{"asset-1", "asset-2"}, assets)
	assert.Equal(t, 2, store.count())
	assert.Equal(t, "Class 2", store.saved[0].Procedure)
	assert.Equal(t, 3, store.saved[0].ToothNumber())

	snap := m.Snapshot()
	assert.Equal(t, StateSetup, snap.State)
	assert.Empty(t, snap.Photos)
	assert.Equal(t, tagging.NoTagsSummary, snap.TagSummary)
	assert.NotEqual(t, oldID, snap.FlowID)

	committed, ok := bus.last().(events.PhotosCommitted)
	require.True(t, ok)
	assert.Equal(t, oldID, committed.FlowID)
	assert.Equal(t, []string{"asset-1", "asset-2"}, committed.AssetIDs)
	assert.Equal(t, "Class 2 • #3", committed.TagSummary)
	assert.Equal(t, 2, rec.GetOperationCount(metrics.OpSave, metrics.StatusSuccess))
}

func TestCommitPartialFailureKeepsUnsavedPhotos(t *testing.T) {
	store := &memoryStore{failAt: 2}
	m := reviewWith(t, store, []string{"a", "b", "c"})

	assets, err := m.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))
	assert.Equal(t, []AssetID{"asset-1"}, assets)
	assert.Equal(t, StateReview, m.State())

	remaining := m.Photos()
	require.Len(t, remaining, 2)
	assert.Equal(t, "b", remaining[0].ID)
	assert.Equal(t, "c", remaining[1].ID)

	assets, err = m.Commit(context.Background())
	require.NoError(t, err)
	assert.Len(t, assets, 2)
	assert.Equal(t, 3, store.count())
	assert.Equal(t, StateSetup, m.State())
}

func TestCommitOnlyFromReview(t *testing.T) {
	m := inCamera(t, &memoryStore{})
	_, err := m.Commit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	noStore := reviewWith(t, nil, []string{"a"})
	_, err = noStore.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNoPhotoStore)
	assert.Equal(t, StateReview, noStore.State())
}

func TestDiscardResetsFlow(t *testing.T) {
	bus := &eventLog{}
	m := reviewWith(t, &memoryStore{}, []string{"a", "b"}, WithPublisher(bus))

	require.NoError(t, m.Discard())
	assert.Equal(t, StateSetup, m.State())
	assert.Empty(t, m.Photos())
	assert.False(t, m.Selection().HasAnyTags())

	discarded, ok := bus.last().(events.BatchDiscarded)
	require.True(t, ok)
	assert.Equal(t, 2, discarded.Count)

	assert.ErrorIs(t, m.Discard(), ErrInvalidTransition)
}

func TestCaptureAddsOnSuccessOnly(t *testing.T) {
	cam := &fakeCamera{results: map[capture.Token]error{
		"t2": errors.New(capture.ErrDecode).Category(errors.CategoryCaptureFailed).Build(),
	}}
	m := inCamera(t, &memoryStore{})
	ctx := context.Background()

	photo, err := m.Capture(ctx, cam, device.FlashOff)
	require.NoError(t, err)
	assert.Equal(t, "t1", photo.ID)

	_, err = m.Capture(ctx, cam, device.FlashOff)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCaptureFailed))

	_, err = m.Capture(ctx, cam, device.FlashOff)
	require.NoError(t, err)

	photos := m.Photos()
	require.Len(t, photos, 2)
	assert.Equal(t, "t1", photos[0].ID)
	assert.Equal(t, "t3", photos[1].ID)
}

func TestCaptureOutsideCameraStage(t *testing.T) {
	m := newMachine(t, &memoryStore{})
	_, err := m.Capture(context.Background(), &fakeCamera{}, device.FlashOff)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSnapshotsFollowTransitions(t *testing.T) {
	m := newMachine(t, &memoryStore{})
	ch, cancel := m.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, "setup", first.StateName)

	require.NoError(t, m.StartCapturing(true))
	next := <-ch
	assert.Equal(t, StateCamera, next.State)
	assert.Greater(t, next.Version, first.Version)
}

type staticMetadata struct{}

func (staticMetadata) Procedures() []string { return []string{"Class 1"} }
func (staticMetadata) Stages() []string     { return []string{"Pre-op"} }
func (staticMetadata) Angles() []string     { return []string{"Buccal"} }
func (staticMetadata) ToothHistory(ctx context.Context, procedure string) ([]ToothRecord, error) {
	return []ToothRecord{{Number: 14, Photos: 2}}, nil
}

func TestVocabularyAndSuggestions(t *testing.T) {
	m := newMachine(t, &memoryStore{}, WithMetadata(staticMetadata{}))

	assert.Equal(t, []string{"Class 1"}, m.Vocabulary().Procedures)

	got, err := m.ToothSuggestions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got, "no suggestions without a procedure")

	require.NoError(t, m.UpdateTags(func(tm *tagging.Model) error {
		tm.SelectProcedure("Class 1")
		return nil
	}))
	got, err = m.ToothSuggestions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 14, got[0].Number)

	assert.Equal(t, Vocabulary{}, newMachine(t, &memoryStore{}).Vocabulary())
}
