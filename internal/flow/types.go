package flow

import (
	"context"
	"image"
	"time"

	"github.com/chairside/chairside/internal/camera/capture"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/tagging"
)

// State is the stage of a capture flow.
type State int

const (
	StateSetup State = iota
	StateCamera
	StateReview
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateCamera:
		return "camera"
	case StateReview:
		return "review"
	default:
		return "unknown"
	}
}

// AssetID identifies a photo once it is stored.
type AssetID string

// PhotoStore persists committed photos.
type PhotoStore interface {
	Save(ctx context.Context, img image.Image, tags tagging.Selection) (AssetID, error)
}

// ToothRecord is one tooth previously photographed for a procedure.
type ToothRecord struct {
	Number   int       `json:"number"`
	LastSeen time.Time `json:"last_seen"`
	Photos   int       `json:"photos"`
}

// MetadataStore supplies tag vocabularies and tooth history.
type MetadataStore interface {
	Procedures() []string
	Stages() []string
	Angles() []string
	ToothHistory(ctx context.Context, procedure string) ([]ToothRecord, error)
}

// Vocabulary is the set of tag values offered during setup.
type Vocabulary struct {
	Procedures []string `json:"procedures"`
	Stages     []string `json:"stages"`
	Angles     []string `json:"angles"`
}

// Prefill seeds a flow from an external entry point. A non-nil Procedure
// starts the flow in the camera stage.
type Prefill struct {
	Procedure   *string
	Stage       *string
	Angle       *string
	ToothNumber *int
}

// Camera is the part of the capture session a flow drives.
type Camera interface {
	CapturePhoto(ctx context.Context, flash device.FlashMode) (capture.Token, error)
	Awaiter
}

// Awaiter resolves capture tokens.
type Awaiter interface {
	Await(ctx context.Context, token capture.Token) (capture.Photo, error)
}

// PhotoView is the batch entry published to observers. It carries no pixels.
type PhotoView struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Rating     int       `json:"rating"`
	Keep       bool      `json:"keep"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// Snapshot is an immutable view of the flow.
type Snapshot struct {
	Version    uint64            `json:"version"`
	FlowID     string            `json:"flow_id"`
	State      State             `json:"-"`
	StateName  string            `json:"state"`
	Photos     []PhotoView       `json:"photos"`
	KeepCount  int               `json:"keep_count"`
	Selection  tagging.Selection `json:"selection"`
	TagSummary string            `json:"tag_summary"`
	HasAllTags bool              `json:"has_all_tags"`
	Committing bool              `json:"committing"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
