package tracker

import (
	"image"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"gocv.io/x/gocv"
)

const histBins = 32

// HistogramTracker matches by hue back-projection: the reference patch is a
// hue histogram and the score at a position is the mean back-projection mass
// under a template-sized window.
type HistogramTracker struct{}

func (t *HistogramTracker) Name() string {
	return "histogram"
}

type HistogramData struct {
	hist   gocv.Mat
	radius float32
}

func (d *HistogramData) Close() {
	d.hist.Close()
}

func (d *HistogramData) half() int {
	return int(d.radius)
}

func (t *HistogramTracker) InitTrackerData(img gocv.Mat, mark iface.Mark) (iface.TrackerData, bool) {
	if mark.Type != iface.MarkCircle || img.Channels() != 3 {
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

	patch := img.Region(image.Rect(x-r, y-r, x+r, y+r))
	defer patch.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(patch, &hsv, gocv.ColorBGRToHSV)

	noMask := gocv.NewMat()
	defer noMask.Close()
	hist := gocv.NewMat()
	gocv.CalcHist([]gocv.Mat{hsv}, []int{0}, noMask, &hist, []int{histBins}, []float64{0, 180}, false)
	gocv.Normalize(hist, &hist, 0, 255, gocv.NormMinMax)

	return &HistogramData{hist: hist, radius: mark.Radius}, true
}

func (t *HistogramTracker) Search(img gocv.Mat, data iface.TrackerData, roi *image.Rectangle, mask *gocv.Mat, threshold float64) (iface.Mark, bool) {
	hd := data.(*HistogramData)
	half := hd.half()
	side := 2 * half

	if img.Channels() != 3 {
		return iface.Mark{}, false
	}

	ext := extendRegion(roi, half, img.Cols(), img.Rows())
	if ext.Dx() < side || ext.Dy() < side {
		return iface.Mark{}, false
	}

	region := img.Region(ext)
	defer region.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(region, &hsv, gocv.ColorBGRToHSV)

	backProj := gocv.NewMat()
	defer backProj.Close()
	gocv.CalcBackProject([]gocv.Mat{hsv}, []int{0}, hd.hist, &backProj, []float64{0, 180}, false)

	// Window means over the back-projection, then keep only positions where
	// the full window fits: that yields the same score-map coordinate space
	// as MatchTemplate (ext - template + 1).
	mass := gocv.NewMat()
	defer mass.Close()
	backProj.ConvertTo(&mass, gocv.MatTypeCV32F)
	gocv.Blur(mass, &mass, image.Pt(side, side))

	valid := mass.Region(image.Rect(half, half, ext.Dx()-side+1+half, ext.Dy()-side+1+half))
	defer valid.Close()
	score := gocv.NewMat()
	defer score.Close()
	valid.ConvertTo(&score, gocv.MatTypeCV32F)
	score.DivideFloat(255)

	var st scoreStats
	if mask != nil {
		cropped, shifted := shiftMask(*mask, ext, half, score.Cols(), score.Rows())
		st = maskedScoreStats(score, shifted)
		shifted.Close()
		cropped.Close()
		if st.cells == 0 {
			return iface.Mark{}, false
		}
	} else {
		st = plainScoreStats(score)
	}

	if st.max <= threshold {
		logger.S().Debugf("histogram search: low mass (%f/%f)", st.max, threshold)
		return iface.Mark{}, false
	}

	center := iface.Position{
		X: float32(st.maxLoc.X + half + ext.Min.X),
		Y: float32(st.maxLoc.Y + half + ext.Min.Y),
	}
	return iface.Mark{Type: iface.MarkCircle, Center: center, Radius: hd.radius}, true
}
