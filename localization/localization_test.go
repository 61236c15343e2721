package localization

import (
	"testing"

	iface "MarkTrackServer/interface"

	"github.com/stretchr/testify/assert"
)

func camera(tx float64) iface.CameraParameters {
	return iface.CameraParameters{
		CameraMatrix: [9]float64{100, 0, 50, 0, 100, 50, 0, 0, 1},
		Rotation:     [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Translation:  [3]float64{tx, 0, 0},
	}
}

func positset(arity int, cams []iface.CameraPosits) iface.Positset {
	return iface.Positset{Arity: arity, Cameras: cams}
}

func sighting(cam, markID int, x, y float32) iface.CameraPosits {
	return iface.CameraPosits{
		CameraIndex: cam,
		Results: []iface.MarkResult{{
			MarkID: markID,
			Found:  true,
			Mark:   iface.Mark{Type: iface.MarkCircle, Center: iface.Position{X: x, Y: y}},
		}},
	}
}

func TestLinear_All(t *testing.T) {
	data := iface.CalibrationData{Cameras: []iface.CameraParameters{camera(0), camera(1)}}
	loc := NewLinear(2)

	t.Run("Test Triangulation", func(t *testing.T) {
		// point (0,0,5): camera 0 sees it at (50,50), the translated
		// camera at (70,50)
		ps := positset(2, []iface.CameraPosits{
			sighting(0, 1, 50, 50),
			sighting(1, 1, 70, 50),
		})
		ls := loc.Locate(ps, data)
		assert.Len(t, ls.Locations, 1)
		assert.True(t, ls.Locations[0].Valid)
		assert.InDelta(t, 0, ls.Locations[0].Point.X, 1e-6)
		assert.InDelta(t, 0, ls.Locations[0].Point.Y, 1e-6)
		assert.InDelta(t, 5, ls.Locations[0].Point.Z, 1e-6)
	})

	t.Run("Test Single View Stays Unlocated", func(t *testing.T) {
		ps := positset(2, []iface.CameraPosits{
			sighting(0, 1, 50, 50),
			{CameraIndex: 1},
		})
		ls := loc.Locate(ps, data)
		assert.Len(t, ls.Locations, 1)
		assert.False(t, ls.Locations[0].Valid)
	})

	t.Run("Test Results Sorted By Mark", func(t *testing.T) {
		ps := positset(2, []iface.CameraPosits{
			{CameraIndex: 0, Results: []iface.MarkResult{
				{MarkID: 9, Found: true, Mark: iface.Mark{Center: iface.Position{X: 50, Y: 50}}},
				{MarkID: 2, Found: true, Mark: iface.Mark{Center: iface.Position{X: 30, Y: 50}}},
			}},
			{CameraIndex: 1, Results: []iface.MarkResult{
				{MarkID: 9, Found: true, Mark: iface.Mark{Center: iface.Position{X: 70, Y: 50}}},
				{MarkID: 2, Found: true, Mark: iface.Mark{Center: iface.Position{X: 50, Y: 50}}},
			}},
		})
		ls := loc.Locate(ps, data)
		assert.Len(t, ls.Locations, 2)
		assert.Equal(t, 2, ls.Locations[0].MarkID)
		assert.Equal(t, 9, ls.Locations[1].MarkID)
	})

	t.Run("Test Arity Mismatch", func(t *testing.T) {
		ps := positset(1, []iface.CameraPosits{sighting(0, 1, 50, 50)})
		ls := loc.Locate(ps, data)
		assert.Empty(t, ls.Locations)
	})

	t.Run("Test Locator Arity Enforced", func(t *testing.T) {
		wide := NewLinear(3)
		ps := positset(2, []iface.CameraPosits{
			sighting(0, 1, 50, 50),
			sighting(1, 1, 70, 50),
		})
		ls := wide.Locate(ps, data)
		assert.Empty(t, ls.Locations)
	})
}
