package tracker

import (
	"image"
	"testing"

	iface "MarkTrackServer/interface"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

type recordData struct {
	closed bool
}

func (d *recordData) Close() {
	d.closed = true
}

type recordBackend struct {
	initOK   bool
	found    bool
	inits    int
	searches int
	lastROI  *image.Rectangle
}

func (b *recordBackend) Name() string {
	return "record"
}

func (b *recordBackend) InitTrackerData(img gocv.Mat, mark iface.Mark) (iface.TrackerData, bool) {
	b.inits++
	if !b.initOK {
		return nil, false
	}
	return &recordData{}, true
}

func (b *recordBackend) Search(img gocv.Mat, data iface.TrackerData, roi *image.Rectangle, mask *gocv.Mat, threshold float64) (iface.Mark, bool) {
	b.searches++
	b.lastROI = roi
	if !b.found {
		return iface.Mark{}, false
	}
	return iface.Mark{Type: iface.MarkCircle, Center: iface.Position{X: 40, Y: 40}, Radius: 5}, true
}

func TestTracker_All(t *testing.T) {
	params := iface.DefaultParameters()
	backend := &recordBackend{initOK: true, found: true}
	trk := NewTracker(2, params, backend)
	img := gocv.NewMat()
	defer img.Close()
	mark := iface.Mark{Type: iface.MarkCircle, Center: iface.Position{X: 50, Y: 50}, Radius: 10}

	t.Run("Test Seed", func(t *testing.T) {
		assert.True(t, trk.SetMark(0, 7, mark, img))
		assert.Equal(t, 1, backend.inits)
	})

	t.Run("Test Seed Unknown Camera", func(t *testing.T) {
		assert.False(t, trk.SetMark(5, 7, mark, img))
		assert.False(t, trk.SetMark(-1, 7, mark, img))
	})

	t.Run("Test Search Region From Seed", func(t *testing.T) {
		results := trk.TrackFrame(0, img)
		assert.Len(t, results, 1)
		assert.True(t, results[0].Found)
		assert.Equal(t, 7, results[0].MarkID)
		// seeded at (50,50) r=10, factor 2.0
		assert.Equal(t, image.Rect(30, 30, 70, 70), *backend.lastROI)
	})

	t.Run("Test Search Region Follows Hit", func(t *testing.T) {
		trk.TrackFrame(0, img)
		// previous hit at (40,40) r=5
		assert.Equal(t, image.Rect(30, 30, 50, 50), *backend.lastROI)
	})

	t.Run("Test Miss Falls Back To Whole Image", func(t *testing.T) {
		backend.found = false
		results := trk.TrackFrame(0, img)
		assert.Len(t, results, 1)
		assert.False(t, results[0].Found)

		trk.TrackFrame(0, img)
		assert.Nil(t, backend.lastROI)
		backend.found = true
	})

	t.Run("Test Unseeded Camera Yields Nothing", func(t *testing.T) {
		assert.Empty(t, trk.TrackFrame(1, img))
	})

	t.Run("Test Reseed Failure Keeps State", func(t *testing.T) {
		backend.initOK = false
		assert.False(t, trk.SetMark(0, 7, mark, img))
		backend.initOK = true
		// previous reference data still answers searches
		results := trk.TrackFrame(0, img)
		assert.Len(t, results, 1)
	})

	t.Run("Test Close", func(t *testing.T) {
		trk.Close()
		assert.Empty(t, trk.TrackFrame(0, img))
	})
}
