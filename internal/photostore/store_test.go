package photostore

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/flow"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/tagging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{
		SQLitePath:    filepath.Join(dir, "db", "chairside.db"),
		PhotoDir:      filepath.Join(dir, "photos"),
		ThumbnailSize: 32,
	}, logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testImage() image.Image {
	return imaging.New(120, 80, color.NRGBA{R: 200, G: 120, B: 110, A: 255})
}

func withTooth(procedure string, tooth int) tagging.Selection {
	return tagging.Selection{
		Procedure: procedure,
		Tooth:     &tagging.Tooth{Number: tooth, Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		Stage:     "Preparation",
		Angle:     "Occlusal",
	}
}

func TestSaveWritesFilesAndRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, testImage(), withTooth("Class 1", 14))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	a, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 120, a.Width)
	assert.Equal(t, 80, a.Height)
	assert.Equal(t, "Class 1 • #14 • Prep • Occ", a.Selection().Summary())

	img, err := imaging.Open(a.Path)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())

	thumb, err := imaging.Open(a.ThumbPath)
	require.NoError(t, err)
	assert.Equal(t, 32, thumb.Bounds().Dx())
	assert.LessOrEqual(t, thumb.Bounds().Dy(), 32)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSaveWithoutTooth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, testImage(), tagging.Selection{Procedure: "Endo Access"})
	require.NoError(t, err)

	a, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, a.ToothNumber)
	assert.Nil(t, a.Selection().Tooth)
}

func TestSaveRejectsNilImageAndCancelledContext(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Save(context.Background(), nil, tagging.Selection{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, testImage(), tagging.Selection{})
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(s.cfg.PhotoDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the thumbnail directory")
}

func TestGetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), flow.AssetID("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestListFiltersByProcedure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"Class 1", "Class 2", "Class 1"} {
		_, err := s.Save(ctx, testImage(), tagging.Selection{Procedure: p})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	class1, err := s.List(ctx, "Class 1", 0)
	require.NoError(t, err)
	assert.Len(t, class1, 2)

	limited, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestToothHistory(t *testing.T) {
	s := openTestStore(t)
	meta := NewMetadata(s, flow.Vocabulary{Procedures: []string{"Class 1"}})
	ctx := context.Background()

	for _, tooth := range []int{14, 3, 14} {
		_, err := s.Save(ctx, testImage(), withTooth("Class 1", tooth))
		require.NoError(t, err)
	}
	_, err := s.Save(ctx, testImage(), withTooth("Class 2", 30))
	require.NoError(t, err)

	got, err := meta.ToothHistory(ctx, "Class 1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 14, got[0].Number)
	assert.Equal(t, 2, got[0].Photos)
	assert.Equal(t, 3, got[1].Number)

	_, err = s.Save(ctx, testImage(), withTooth("Class 1", 8))
	require.NoError(t, err)
	got, err = meta.ToothHistory(ctx, "Class 1")
	require.NoError(t, err)
	assert.Len(t, got, 3, "save invalidates the cached history")

	none, err := meta.ToothHistory(ctx, "Crown Prep")
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Equal(t, []string{"Class 1"}, meta.Procedures())
}

func TestStoreBacksFlowCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m, err := flow.New(s, flow.WithPrefill(flow.Prefill{Procedure: ptr("Class 3")}))
	require.NoError(t, err)
	defer m.Shutdown()

	for range 2 {
		require.NoError(t, m.AddPhoto(captured()))
	}
	require.True(t, m.FinishCapturing())

	assets, err := m.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	list, err := s.List(ctx, "Class 3", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
