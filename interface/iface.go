package iface

import (
	"image"

	"gocv.io/x/gocv"
)

// TrackerData is the per-(camera, marker) matching state a backend creates at
// initialization. Read-only during matching, closed exactly once when the
// pairing is torn down.
type TrackerData interface {
	Close()
}

// Backend is the marker matching strategy contract. Exactly one variant is
// active per running pipeline; implementations keep no shared mutable state.
//
// InitTrackerData crops whatever reference the strategy needs around the mark
// and returns it, or ok == false when the mark lies too close to the image
// border. The returned data never references the caller's buffer.
//
// Search looks for the reference inside image. A nil roi means the whole
// image; a non-nil roi is extended by the reference extent before matching so
// the caller does not need to know template dimensions. A non-nil mask
// restricts candidate positions. Search must be a bounded deterministic
// computation; ok == false is the ordinary not-found-this-frame outcome.
type Backend interface {
	InitTrackerData(image gocv.Mat, mark Mark) (TrackerData, bool)
	Search(image gocv.Mat, data TrackerData, roi *image.Rectangle, mask *gocv.Mat, threshold float64) (Mark, bool)
	Name() string
}
