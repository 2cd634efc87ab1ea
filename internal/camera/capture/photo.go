package capture

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// MaxRating is the highest review rating.
const MaxRating = 5

// DefaultThumbnailSize is the longest side of review thumbnails.
const DefaultThumbnailSize = 160

// Photo is a decoded capture. ID, Image and CapturedAt never change; Rating
// and Keep are edited during review.
type Photo struct {
	ID         string
	Token      Token
	Image      image.Image
	CapturedAt time.Time
	Rating     int
	Keep       bool
}

// Size returns the pixel dimensions.
func (p Photo) Size() (width, height int) {
	if p.Image == nil {
		return 0, 0
	}
	b := p.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Thumbnail scales the photo to fit in a maxSide square.
func (p Photo) Thumbnail(maxSide int) image.Image {
	if p.Image == nil {
		return nil
	}
	if maxSide <= 0 {
		maxSide = DefaultThumbnailSize
	}
	return imaging.Fit(p.Image, maxSide, maxSide, imaging.Box)
}
