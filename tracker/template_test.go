package tracker

import (
	"image"
	"image/color"
	"math"
	"testing"

	iface "MarkTrackServer/interface"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func circleScene(w, h int, center image.Point, radius int) gocv.Mat {
	img := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	gocv.Circle(&img, center, radius, color.RGBA{R: 255, G: 255, B: 255}, -1)
	return img
}

func TestTemplateTracker_All(t *testing.T) {
	params := iface.DefaultParameters()
	backend, err := NewBackend("template", params)
	assert.NoError(t, err)

	img := circleScene(100, 100, image.Pt(50, 50), 10)
	defer img.Close()
	mark := iface.Mark{Type: iface.MarkCircle, Center: iface.Position{X: 50, Y: 50}, Radius: 10}

	var data iface.TrackerData

	t.Run("Test Init", func(t *testing.T) {
		d, ok := backend.InitTrackerData(img, mark)
		assert.True(t, ok)
		tpl := d.(*TemplateData)
		assert.Equal(t, 20, tpl.tpl.Cols())
		assert.Equal(t, 20, tpl.tpl.Rows())
		data = d
	})

	t.Run("Test Init Near Border", func(t *testing.T) {
		for _, c := range []iface.Position{{X: 5, Y: 5}, {X: 95, Y: 50}, {X: 50, Y: 95}} {
			d, ok := backend.InitTrackerData(img, iface.Mark{Type: iface.MarkCircle, Center: c, Radius: 10})
			assert.False(t, ok)
			assert.Nil(t, d)
		}
	})

	t.Run("Test Init Degenerate Radius", func(t *testing.T) {
		_, ok := backend.InitTrackerData(img, iface.Mark{Type: iface.MarkCircle, Center: iface.Position{X: 50, Y: 50}})
		assert.False(t, ok)
	})

	t.Run("Test Search Whole Image", func(t *testing.T) {
		found, ok := backend.Search(img, data, nil, nil, 0)
		assert.True(t, ok)
		assert.InDelta(t, 50, found.Center.X, 1)
		assert.InDelta(t, 50, found.Center.Y, 1)
		assert.Equal(t, float32(10), found.Radius)
	})

	t.Run("Test Search Inside Region", func(t *testing.T) {
		roi := image.Rect(35, 35, 65, 65)
		found, ok := backend.Search(img, data, &roi, nil, 0)
		assert.True(t, ok)
		assert.InDelta(t, 50, found.Center.X, 1)
		assert.InDelta(t, 50, found.Center.Y, 1)
	})

	t.Run("Test Threshold Monotonicity", func(t *testing.T) {
		// raising the threshold may only turn found into not-found
		prev := true
		for _, th := range []float64{0, 0.25, 0.5, 0.75, 1.0, 1.5, 2.0} {
			_, ok := backend.Search(img, data, nil, nil, th)
			if ok {
				assert.True(t, prev)
			}
			prev = ok
		}
	})

	t.Run("Test Search Region Too Small", func(t *testing.T) {
		roi := image.Rect(0, 0, 1, 1)
		_, ok := backend.Search(img, data, &roi, nil, 0)
		assert.False(t, ok)
	})

	t.Run("Test Mask All Zero", func(t *testing.T) {
		mask := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8U)
		defer mask.Close()
		_, ok := backend.Search(img, data, nil, &mask, 0)
		assert.False(t, ok)
	})

	t.Run("Test Mask Window Around Target", func(t *testing.T) {
		mask := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8U)
		defer mask.Close()
		window := mask.Region(image.Rect(45, 45, 56, 56))
		window.SetTo(gocv.NewScalar(255, 0, 0, 0))
		window.Close()

		found, ok := backend.Search(img, data, nil, &mask, 0)
		assert.True(t, ok)
		assert.InDelta(t, 50, found.Center.X, 1)
		assert.InDelta(t, 50, found.Center.Y, 1)
	})

	t.Run("Test Mask Redirects To Best Unmasked", func(t *testing.T) {
		// same scene plus a weaker decoy disc; the mask blots out the true
		// match, so the engine must settle on the decoy instead
		scene := circleScene(100, 100, image.Pt(50, 50), 10)
		defer scene.Close()
		gocv.Circle(&scene, image.Pt(20, 70), 8, color.RGBA{R: 255, G: 255, B: 255}, -1)

		mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 100, 100, gocv.MatTypeCV8U)
		defer mask.Close()
		blot := mask.Region(image.Rect(35, 35, 66, 66))
		blot.SetTo(gocv.NewScalar(0, 0, 0, 0))
		blot.Close()

		found, ok := backend.Search(scene, data, nil, &mask, 0)
		assert.True(t, ok)
		assert.Greater(t, math.Hypot(float64(found.Center.X)-50, float64(found.Center.Y)-50), 5.0)
		assert.InDelta(t, 20, found.Center.X, 2)
		assert.InDelta(t, 70, found.Center.Y, 2)
	})

	t.Run("Test Close", func(t *testing.T) {
		data.Close()
	})
}

func TestNewBackend_All(t *testing.T) {
	params := iface.DefaultParameters()

	t.Run("Test Known Strategies", func(t *testing.T) {
		for name, want := range map[string]string{
			"":          "template",
			"template":  "template",
			"circle":    "circle",
			"histogram": "histogram",
		} {
			b, err := NewBackend(name, params)
			assert.NoError(t, err)
			assert.Equal(t, want, b.Name())
		}
	})

	t.Run("Test Unknown Strategy", func(t *testing.T) {
		_, err := NewBackend("bogus", params)
		assert.Error(t, err)
	})
}

func TestExtendRegion_All(t *testing.T) {
	t.Run("Test Nil Selects Whole Image", func(t *testing.T) {
		assert.Equal(t, image.Rect(0, 0, 100, 80), extendRegion(nil, 10, 100, 80))
	})

	t.Run("Test Extension And Clipping", func(t *testing.T) {
		roi := image.Rect(40, 40, 60, 60)
		assert.Equal(t, image.Rect(30, 30, 70, 70), extendRegion(&roi, 10, 100, 100))

		edge := image.Rect(0, 0, 20, 20)
		assert.Equal(t, image.Rect(0, 0, 30, 30), extendRegion(&edge, 10, 100, 100))
	})
}
