package tracker

import (
	"fmt"
	"image"
	"math"

	iface "MarkTrackServer/interface"

	"gocv.io/x/gocv"
)

const StrategyTemplate = 0x0011
const StrategyCircle = 0x0012
const StrategyHistogram = 0x0013

// NewBackend builds the strategy variant selected at pipeline assembly time.
func NewBackend(name string, params iface.Parameters) (iface.Backend, error) {
	switch name {
	case "template", "":
		return &TemplateTracker{}, nil
	case "circle":
		return &CircleTracker{params: params}, nil
	case "histogram":
		return &HistogramTracker{}, nil
	}
	return nil, fmt.Errorf("unknown tracker strategy %q", name)
}

// extendRegion widens the caller's rectangle by the template half-size in
// every direction and clips it to image bounds, so the template's full extent
// can slide across the nominal region. A nil roi selects the whole image.
func extendRegion(roi *image.Rectangle, half, cols, rows int) image.Rectangle {
	bounds := image.Rect(0, 0, cols, rows)
	if roi == nil {
		return bounds
	}
	ext := image.Rect(roi.Min.X-half, roi.Min.Y-half, roi.Max.X+half, roi.Max.Y+half)
	return ext.Intersect(bounds)
}

type scoreStats struct {
	min, max       float64
	minLoc, maxLoc image.Point
	stdDev         float64
	cells          int
}

// plainScoreStats reads extremes and deviation of the whole score map.
func plainScoreStats(score gocv.Mat) scoreStats {
	minVal, maxVal, minLoc, maxLoc := gocv.MinMaxLoc(score)
	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(score, &mean, &stddev)
	return scoreStats{
		min:    float64(minVal),
		max:    float64(maxVal),
		minLoc: minLoc,
		maxLoc: maxLoc,
		stdDev: stddev.GetDoubleAt(0, 0),
		cells:  score.Rows() * score.Cols(),
	}
}

// maskedScoreStats walks the score map cell by cell honoring mask, which must
// already be aligned one-to-one with the score coordinate space. gocv exposes
// no masked MinMaxLoc/MeanStdDev, so the statistics are accumulated manually.
func maskedScoreStats(score gocv.Mat, mask gocv.Mat) scoreStats {
	st := scoreStats{min: math.Inf(1), max: math.Inf(-1)}
	var sum, sqSum float64
	for y := 0; y < score.Rows(); y++ {
		for x := 0; x < score.Cols(); x++ {
			if mask.GetUCharAt(y, x) == 0 {
				continue
			}
			v := float64(score.GetFloatAt(y, x))
			if v < st.min {
				st.min = v
				st.minLoc = image.Pt(x, y)
			}
			if v > st.max {
				st.max = v
				st.maxLoc = image.Pt(x, y)
			}
			sum += v
			sqSum += v * v
			st.cells++
		}
	}
	if st.cells > 0 {
		n := float64(st.cells)
		m := sum / n
		st.stdDev = math.Sqrt(math.Max(0, sqSum/n-m*m))
	}
	return st
}

// shiftMask crops mask with the same region as the image and then takes the
// sub-rectangle aligned with the score map: valid score positions are offset
// from the cropped mask by the template's top-left margin. Masking and
// matching live in different coordinate spaces, this reconciles them.
// The caller closes the returned view.
func shiftMask(mask gocv.Mat, ext image.Rectangle, half, scoreCols, scoreRows int) (gocv.Mat, gocv.Mat) {
	cropped := mask.Region(ext)
	shifted := cropped.Region(image.Rect(half, half, half+scoreCols, half+scoreRows))
	return cropped, shifted
}
