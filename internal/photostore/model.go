package photostore

import (
	"time"

	"github.com/chairside/chairside/internal/tagging"
)

// Asset is one committed photo. The JPEG and its thumbnail live on disk;
// the row carries the tags.
type Asset struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	Procedure   string     `gorm:"index:idx_assets_procedure_tooth"`
	ToothNumber *int       `gorm:"index:idx_assets_procedure_tooth"`
	ToothDate   *time.Time
	Stage       string
	Angle       string
	Width       int
	Height      int
	Path        string `gorm:"not null"`
	ThumbPath   string
	CreatedAt   time.Time `gorm:"index"`
}

// Selection returns the tags the asset was saved with.
func (a Asset) Selection() tagging.Selection {
	sel := tagging.Selection{
		Procedure: a.Procedure,
		Stage:     a.Stage,
		Angle:     a.Angle,
	}
	if a.ToothNumber != nil {
		t := tagging.Tooth{Number: *a.ToothNumber}
		if a.ToothDate != nil {
			t.Date = *a.ToothDate
		}
		sel.Tooth = &t
	}
	return sel
}
