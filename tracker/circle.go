package tracker

import (
	"image"
	"math"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"gocv.io/x/gocv"
)

// CircleTracker relocates a marker by Hough circle detection instead of patch
// correlation. It keeps the same border and region discipline as the template
// variant so the strategies stay interchangeable.
type CircleTracker struct {
	params iface.Parameters
}

func (t *CircleTracker) Name() string {
	return "circle"
}

type CircleData struct {
	radius float32
}

func (d *CircleData) Close() {}

func (d *CircleData) half() int {
	return int(d.radius)
}

func (t *CircleTracker) InitTrackerData(img gocv.Mat, mark iface.Mark) (iface.TrackerData, bool) {
	if mark.Type != iface.MarkCircle {
		return nil, false
	}
	x := int(mark.Center.X)
	y := int(mark.Center.Y)
	r := int(mark.Radius)
	if r < 1 {
		return nil, false
	}
	if x < r || x >= img.Cols()-r || y < r || y >= img.Rows()-r {
		return nil, false
	}
	return &CircleData{radius: mark.Radius}, true
}

func (t *CircleTracker) Search(img gocv.Mat, data iface.TrackerData, roi *image.Rectangle, mask *gocv.Mat, threshold float64) (iface.Mark, bool) {
	cd := data.(*CircleData)
	half := cd.half()

	ext := extendRegion(roi, half, img.Cols(), img.Rows())
	if ext.Dx() < 2*half || ext.Dy() < 2*half {
		return iface.Mark{}, false
	}

	region := img.Region(ext)
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 3 {
		gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)
	} else {
		region.CopyTo(&gray)
	}
	gocv.MedianBlur(gray, &gray, 5)

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(gray, &circles, gocv.HoughGradient,
		1, float64(2*half), 100, t.params.CircleAccumulator, half/2, 2*half)

	best := iface.Mark{}
	bestValue := 0.0
	found := false
	for i := 0; i < circles.Cols(); i++ {
		v := circles.GetVecfAt(0, i)
		cx := float64(v[0]) + float64(ext.Min.X)
		cy := float64(v[1]) + float64(ext.Min.Y)
		cr := float64(v[2])
		if mask != nil {
			mx := int(cx)
			my := int(cy)
			if mx < 0 || mx >= mask.Cols() || my < 0 || my >= mask.Rows() {
				continue
			}
			if mask.GetUCharAt(my, mx) == 0 {
				continue
			}
		}
		// Radius agreement with the seeded marker stands in for a
		// correlation score.
		value := 1 - math.Abs(cr-float64(cd.radius))/float64(cd.radius)
		if value > bestValue {
			bestValue = value
			best = iface.Mark{
				Type:   iface.MarkCircle,
				Center: iface.Position{X: float32(cx), Y: float32(cy)},
				Radius: float32(cr),
			}
			found = true
		}
	}

	if !found || bestValue <= threshold {
		logger.S().Debugf("circle search: no candidate above %f", threshold)
		return iface.Mark{}, false
	}
	return best, true
}
