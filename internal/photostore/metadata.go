package photostore

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/flow"
)

// Metadata implements flow.MetadataStore with a fixed vocabulary and tooth
// history read from the store.
type Metadata struct {
	vocab flow.Vocabulary
	store *Store
}

// NewMetadata returns a metadata source backed by store.
func NewMetadata(store *Store, vocab flow.Vocabulary) *Metadata {
	return &Metadata{vocab: vocab, store: store}
}

func (m *Metadata) Procedures() []string { return slices.Clone(m.vocab.Procedures) }
func (m *Metadata) Stages() []string     { return slices.Clone(m.vocab.Stages) }
func (m *Metadata) Angles() []string     { return slices.Clone(m.vocab.Angles) }

type toothRow struct {
	ToothNumber int
	CreatedAt   time.Time
}

// ToothHistory returns the teeth photographed for procedure, most recent
// first. Results are cached until the next save for that procedure.
func (m *Metadata) ToothHistory(ctx context.Context, procedure string) ([]flow.ToothRecord, error) {
	if cached, ok := m.store.history.Get(procedure); ok {
		return slices.Clone(cached.([]flow.ToothRecord)), nil
	}

	var rows []toothRow
	err := m.store.db.WithContext(ctx).
		Model(&Asset{}).
		Select("tooth_number, created_at").
		Where("procedure = ? AND tooth_number IS NOT NULL", procedure).
		Order("created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Context("procedure", procedure).
			Build()
	}

	index := make(map[int]int)
	var records []flow.ToothRecord
	for _, r := range rows {
		if i, ok := index[r.ToothNumber]; ok {
			records[i].Photos++
			continue
		}
		index[r.ToothNumber] = len(records)
		records = append(records, flow.ToothRecord{
			Number:   r.ToothNumber,
			LastSeen: r.CreatedAt,
			Photos:   1,
		})
	}

	m.store.history.Set(procedure, records, cache.DefaultExpiration)
	return slices.Clone(records), nil
}
