package tracker

import (
	"image"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// markerState is the per-marker tracking state across all cameras: reference
// data created once per (camera, marker) pairing, plus the last hit used to
// derive the next search region.
type markerState struct {
	data []iface.TrackerData
	last []*iface.Mark
}

// Tracker multiplexes one strategy backend over every camera view and every
// known marker. It is thread-affine: all calls happen on the worker of the
// controller that owns it.
type Tracker struct {
	arity   int
	params  iface.Parameters
	backend iface.Backend
	markers map[int]*markerState
}

func NewTracker(arity int, params iface.Parameters, backend iface.Backend) *Tracker {
	return &Tracker{
		arity:   arity,
		params:  params,
		backend: backend,
		markers: make(map[int]*markerState),
	}
}

func (t *Tracker) Arity() int {
	return t.arity
}

// SetMark seeds or reseeds the reference state of markID for one camera from
// the given frame. Returns false when the mark lies too close to the border,
// in which case any previous state for the pairing is kept.
func (t *Tracker) SetMark(cam int, markID int, mark iface.Mark, img gocv.Mat) bool {
	if cam < 0 || cam >= t.arity {
		return false
	}
	data, ok := t.backend.InitTrackerData(img, mark)
	if !ok {
		logger.Log().Warn("mark rejected, too close to image border",
			zap.Int("camera", cam), zap.Int("mark", markID))
		return false
	}

	ms := t.markers[markID]
	if ms == nil {
		ms = &markerState{
			data: make([]iface.TrackerData, t.arity),
			last: make([]*iface.Mark, t.arity),
		}
		t.markers[markID] = ms
	}
	if old := ms.data[cam]; old != nil {
		old.Close()
	}
	seeded := mark
	ms.data[cam] = data
	ms.last[cam] = &seeded
	logger.Log().Info("mark seeded",
		zap.Int("camera", cam), zap.Int("mark", markID),
		zap.String("strategy", t.backend.Name()))
	return true
}

// TrackFrame runs one camera's frame through every marker that has reference
// state for that camera. Misses stay local: state is retained and the next
// frame falls back to a whole-image search.
func (t *Tracker) TrackFrame(cam int, img gocv.Mat) []iface.MarkResult {
	results := make([]iface.MarkResult, 0, len(t.markers))
	for id, ms := range t.markers {
		if cam < 0 || cam >= t.arity || ms.data[cam] == nil {
			continue
		}
		var roi *image.Rectangle
		if prev := ms.last[cam]; prev != nil {
			r := t.searchRegion(*prev)
			roi = &r
		}
		mark, found := t.backend.Search(img, ms.data[cam], roi, nil, t.threshold())
		if found {
			hit := mark
			ms.last[cam] = &hit
		} else {
			ms.last[cam] = nil
		}
		results = append(results, iface.MarkResult{MarkID: id, Found: found, Mark: mark})
	}
	return results
}

// searchRegion predicts where to look next: the last hit inflated by the
// configured factor.
func (t *Tracker) searchRegion(m iface.Mark) image.Rectangle {
	r := float64(m.Radius) * t.params.SearchFactor
	return image.Rect(
		int(float64(m.Center.X)-r), int(float64(m.Center.Y)-r),
		int(float64(m.Center.X)+r), int(float64(m.Center.Y)+r))
}

func (t *Tracker) threshold() float64 {
	switch t.backend.(type) {
	case *HistogramTracker:
		return t.params.HistThreshold
	default:
		return t.params.TemplateThreshold
	}
}

// Close releases all reference state. The tracker must not be used afterwards.
func (t *Tracker) Close() {
	for _, ms := range t.markers {
		for i, d := range ms.data {
			if d != nil {
				d.Close()
				ms.data[i] = nil
			}
		}
	}
	t.markers = make(map[int]*markerState)
}
