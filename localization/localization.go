package localization

import (
	"math"
	"sort"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"gonum.org/v1/gonum/mat"
)

// Linear estimates 3D marker positions by direct linear transformation: every
// camera that found the marker contributes two rows to a homogeneous system
// solved by SVD. Markers seen by fewer than two cameras stay unlocated.
type Linear struct {
	arity int
}

func NewLinear(arity int) *Linear {
	return &Linear{arity: arity}
}

func (l *Linear) Locate(ps iface.Positset, data iface.CalibrationData) iface.Locationset {
	out := iface.Locationset{Timestamp: ps.Timestamp}
	if ps.Arity != l.arity || data.Arity() != l.arity {
		logger.S().Errorf("arity mismatch: positset %d, calibration %d, locator %d",
			ps.Arity, data.Arity(), l.arity)
		return out
	}

	type sighting struct {
		camera int
		pos    iface.Position
	}
	byMark := make(map[int][]sighting)
	for _, cam := range ps.Cameras {
		for _, r := range cam.Results {
			if !r.Found {
				continue
			}
			byMark[r.MarkID] = append(byMark[r.MarkID], sighting{camera: cam.CameraIndex, pos: r.Mark.Center})
		}
	}

	ids := make([]int, 0, len(byMark))
	for id := range byMark {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		views := byMark[id]
		loc := iface.Location{MarkID: id}
		if len(views) >= 2 {
			rows := make([]float64, 0, 8*len(views))
			for _, v := range views {
				p := projection(data.Cameras[v.camera])
				x := float64(v.pos.X)
				y := float64(v.pos.Y)
				for c := 0; c < 4; c++ {
					rows = append(rows, x*p[2][c]-p[0][c])
				}
				for c := 0; c < 4; c++ {
					rows = append(rows, y*p[2][c]-p[1][c])
				}
			}
			if pt, ok := solveHomogeneous(rows, 2*len(views)); ok {
				loc.Valid = true
				loc.Point = pt
			}
		}
		out.Locations = append(out.Locations, loc)
	}
	return out
}

// projection composes the 3x4 projection matrix K [R|t].
func projection(p iface.CameraParameters) [3][4]float64 {
	var rt [3][4]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rt[r][c] = p.Rotation[r*3+c]
		}
		rt[r][3] = p.Translation[r]
	}
	var out [3][4]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += p.CameraMatrix[r*3+k] * rt[k][c]
			}
			out[r][c] = sum
		}
	}
	return out
}

// solveHomogeneous finds the null-space direction of the stacked system as
// the right singular vector of the smallest singular value.
func solveHomogeneous(rows []float64, n int) (iface.Point3, bool) {
	a := mat.NewDense(n, 4, rows)
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return iface.Point3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	last := v.RawMatrix().Cols - 1
	w := v.At(3, last)
	if math.Abs(w) < 1e-12 {
		return iface.Point3{}, false
	}
	return iface.Point3{
		X: v.At(0, last) / w,
		Y: v.At(1, last) / w,
		Z: v.At(2, last) / w,
	}, true
}
