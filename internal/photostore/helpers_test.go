package photostore

import (
	"github.com/chairside/chairside/internal/camera/capture"
)

func ptr[T any](v T) *T { return &v }

func captured() capture.Photo {
	return capture.Photo{Image: testImage()}
}
