package tracker

import (
	"image"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"gocv.io/x/gocv"
)

// Experimentally TmCcoeffNormed gave the best results.
// const matchMethod = gocv.TmSqdiffNormed
// const matchMethod = gocv.TmCcorrNormed
const matchMethod = gocv.TmCcoeffNormed

// TemplateTracker matches a cropped reference patch by normalized
// cross-correlation.
type TemplateTracker struct{}

func (t *TemplateTracker) Name() string {
	return "template"
}

type TemplateData struct {
	tpl    gocv.Mat
	radius float32
}

func (d *TemplateData) Close() {
	d.tpl.Close()
}

func (d *TemplateData) half() int {
	return int(d.radius)
}

// InitTrackerData crops a square patch of side 2*radius centered on the mark
// and stores a private copy, so later mutation of the source frame cannot
// corrupt tracker state. Fails without creating state when the patch would
// extend outside image bounds.
func (t *TemplateTracker) InitTrackerData(img gocv.Mat, mark iface.Mark) (iface.TrackerData, bool) {
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

	region := img.Region(image.Rect(x-r, y-r, x+r, y+r))
	defer region.Close()

	return &TemplateData{tpl: region.Clone(), radius: mark.Radius}, true
}

func (t *TemplateTracker) Search(img gocv.Mat, data iface.TrackerData, roi *image.Rectangle, mask *gocv.Mat, threshold float64) (iface.Mark, bool) {
	tpl := data.(*TemplateData)
	half := tpl.half()

	ext := extendRegion(roi, half, img.Cols(), img.Rows())
	if ext.Dx() < tpl.tpl.Cols() || ext.Dy() < tpl.tpl.Rows() {
		logger.S().Debugf("template search: region %v smaller than template", ext)
		return iface.Mark{}, false
	}

	region := img.Region(ext)
	defer region.Close()

	score := gocv.NewMat()
	defer score.Close()
	noMask := gocv.NewMat()
	defer noMask.Close()
	gocv.MatchTemplate(region, tpl.tpl, &score, matchMethod, noMask)

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

	value := matchConfidence(st)
	if value <= threshold {
		logger.S().Debugf("template search: low value (%f/%f), stddev %f", value, threshold, st.stdDev)
		return iface.Mark{}, false
	}

	// TODO reject when the extreme is shallow (i.e. not a unique match)

	loc := matchWinner(st)
	center := iface.Position{
		X: float32(loc.X + half + ext.Min.X),
		Y: float32(loc.Y + half + ext.Min.Y),
	}
	logger.S().Debugf("template search: matched (%f/%f) at [%f,%f]", value, threshold, center.X, center.Y)
	return iface.Mark{Type: iface.MarkCircle, Center: center, Radius: tpl.radius}, true
}

// matchConfidence folds score extremes into a single confidence value; the
// formula is tied to the match method.
func matchConfidence(st scoreStats) float64 {
	switch matchMethod {
	case gocv.TmSqdiffNormed:
		return 1 - st.min
	case gocv.TmCcorrNormed:
		return st.max
	case gocv.TmCcoeffNormed:
		return st.max - st.min
	}
	return 0
}

func matchWinner(st scoreStats) image.Point {
	if matchMethod == gocv.TmSqdiffNormed {
		return st.minLoc
	}
	return st.maxLoc
}
