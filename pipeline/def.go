package pipeline

import (
	"time"

	iface "MarkTrackServer/interface"

	"gocv.io/x/gocv"
)

// Frame couples the frame metadata with its pixel buffer. Whoever holds a
// Frameset owns the Mats inside and must Close it exactly once.
type Frame struct {
	iface.Frame
	Image gocv.Mat
}

// Frameset is one temporally aligned capture cycle: exactly one frame per
// active camera, ordered by camera index.
type Frameset struct {
	Timestamp time.Time
	Frames    []Frame
}

func (fs Frameset) Arity() int {
	return len(fs.Frames)
}

func (fs Frameset) Close() {
	for i := range fs.Frames {
		fs.Frames[i].Image.Close()
	}
}

// Clone deep-copies every frame buffer, so the copy can cross worker
// boundaries independently of the original.
func (fs Frameset) Clone() Frameset {
	out := Frameset{Timestamp: fs.Timestamp, Frames: make([]Frame, len(fs.Frames))}
	for i := range fs.Frames {
		out.Frames[i] = Frame{Frame: fs.Frames[i].Frame, Image: fs.Frames[i].Image.Clone()}
	}
	return out
}

// Calibrator is the calibration collaborator: fed framesets during a
// calibration-only run until it reports completion.
type Calibrator interface {
	Arity() int
	Feed(fs Frameset) bool
	Data() iface.CalibrationData
}

// Locator is the localization collaborator: turns per-camera 2D marks plus
// calibration into 3D point estimates. Black box to the controller.
type Locator interface {
	Locate(ps iface.Positset, data iface.CalibrationData) iface.Locationset
}

// MarkSeed is the converter-to-controller event that (re)initializes tracker
// reference state, e.g. from a user-drawn region.
type MarkSeed struct {
	CameraIndex int
	MarkID      int
	Mark        iface.Mark
}
