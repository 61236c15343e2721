package pipeline

import (
	"time"

	"MarkTrackServer/capture"
	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"gocv.io/x/gocv"
)

// Aggregator pulls one frame from every active source and assembles the
// synchronized frameset for the cycle. It owns the sources that were moved
// into it and closes them when the pipeline is torn down.
type Aggregator struct {
	sources []capture.VideoSource
}

func NewAggregator(sources []capture.VideoSource) *Aggregator {
	return &Aggregator{sources: sources}
}

func (a *Aggregator) Arity() int {
	return len(a.sources)
}

// ReadFrameset blocks until every source produced a frame for this cycle.
// Any source drying up fails the whole cycle; partial framesets would break
// the alignment invariant.
func (a *Aggregator) ReadFrameset() (Frameset, bool) {
	ts := time.Now()
	fs := Frameset{Timestamp: ts, Frames: make([]Frame, 0, len(a.sources))}
	for i, src := range a.sources {
		m := gocv.NewMat()
		if !src.Grab(&m) {
			m.Close()
			fs.Close()
			logger.S().Warnf("camera %d stopped producing frames", src.Device())
			return Frameset{}, false
		}
		fs.Frames = append(fs.Frames, Frame{
			Frame: iface.Frame{CameraIndex: i, Timestamp: ts},
			Image: m,
		})
	}
	return fs, true
}

func (a *Aggregator) Close() {
	for _, src := range a.sources {
		_ = src.Close()
	}
	a.sources = nil
}
