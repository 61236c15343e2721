package calib

import (
	"image"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"
	"MarkTrackServer/pipeline"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ChessboardPattern describes the physical calibration target: inner corner
// grid plus the square edge length in meters.
type ChessboardPattern struct {
	Rows       int
	Cols       int
	SquareSize float64
}

func (p ChessboardPattern) Size() image.Point {
	return image.Pt(p.Cols, p.Rows)
}

// ObjectPoints lays the corner grid into the target's own plane (z = 0).
func (p ChessboardPattern) ObjectPoints() []gocv.Point3f {
	pts := make([]gocv.Point3f, 0, p.Rows*p.Cols)
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Cols; x++ {
			pts = append(pts, gocv.Point3f{
				X: float32(float64(x) * p.SquareSize),
				Y: float32(float64(y) * p.SquareSize),
				Z: 0,
			})
		}
	}
	return pts
}

// CameraCalibration consumes framesets from calibration-only runs and
// produces per-camera intrinsics once enough shots saw the pattern in every
// camera at once. Extrinsics are left at the identity; rig placement comes
// from outside.
type CameraCalibration struct {
	params    iface.Parameters
	arity     int
	pattern   ChessboardPattern
	shots     int
	collected int
	imageSize image.Point

	objectPoints []gocv.Points3fVector
	imagePoints  []gocv.Points2fVector

	data iface.CalibrationData
	done bool
}

func NewCameraCalibration(params iface.Parameters, arity int, pattern ChessboardPattern) *CameraCalibration {
	c := &CameraCalibration{
		params:       params,
		arity:        arity,
		pattern:      pattern,
		shots:        params.CalibrationShots,
		objectPoints: make([]gocv.Points3fVector, arity),
		imagePoints:  make([]gocv.Points2fVector, arity),
	}
	if c.shots < 1 {
		c.shots = 1
	}
	for i := 0; i < arity; i++ {
		c.objectPoints[i] = gocv.NewPoints3fVector()
		c.imagePoints[i] = gocv.NewPoints2fVector()
	}
	return c
}

func (c *CameraCalibration) Arity() int {
	return c.arity
}

// Feed inspects one frameset; a cycle counts only when every camera sees the
// full pattern, so all views of a shot are of the same target pose. Returns
// true once calibration is complete.
func (c *CameraCalibration) Feed(fs pipeline.Frameset) bool {
	if c.done {
		return true
	}
	if fs.Arity() != c.arity {
		return false
	}

	found := make([]gocv.Point2fVector, 0, c.arity)
	complete := true
	for i := range fs.Frames {
		corners, ok := findCorners(fs.Frames[i].Image, c.pattern)
		if !ok {
			complete = false
			break
		}
		found = append(found, corners)
	}
	if !complete {
		for _, v := range found {
			v.Close()
		}
		return false
	}

	obj := c.pattern.ObjectPoints()
	for i, corners := range found {
		c.imagePoints[i].Append(corners)
		c.objectPoints[i].Append(gocv.NewPoint3fVectorFromPoints(obj))
	}
	c.imageSize = image.Pt(fs.Frames[0].Image.Cols(), fs.Frames[0].Image.Rows())
	c.collected++
	logger.Log().Info("calibration shot accepted",
		zap.Int("collected", c.collected), zap.Int("target", c.shots))

	if c.collected >= c.shots {
		c.calibrate()
		c.done = true
	}
	return c.done
}

func (c *CameraCalibration) Data() iface.CalibrationData {
	return c.data
}

func (c *CameraCalibration) calibrate() {
	c.data = iface.CalibrationData{Cameras: make([]iface.CameraParameters, c.arity)}
	for i := 0; i < c.arity; i++ {
		cameraMatrix := gocv.NewMat()
		distCoeffs := gocv.NewMat()
		rvecs := gocv.NewMat()
		tvecs := gocv.NewMat()

		rms := gocv.CalibrateCamera(c.objectPoints[i], c.imagePoints[i], c.imageSize,
			&cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(0))

		p := iface.CameraParameters{ReprojError: rms}
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				p.CameraMatrix[r*3+col] = cameraMatrix.GetDoubleAt(r, col)
			}
		}
		for k := 0; k < 5 && k < distCoeffs.Cols()*distCoeffs.Rows(); k++ {
			p.DistCoeffs[k] = distCoeffs.GetDoubleAt(0, k)
		}
		p.Rotation = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
		c.data.Cameras[i] = p

		cameraMatrix.Close()
		distCoeffs.Close()
		rvecs.Close()
		tvecs.Close()

		logger.Log().Info("camera calibrated",
			zap.Int("camera", i), zap.Float64("reprojError", rms))
	}
	c.release()
}

// Close frees the native corner storage of an unfinished run.
func (c *CameraCalibration) Close() {
	if !c.done {
		c.release()
	}
}

func (c *CameraCalibration) release() {
	for i := range c.imagePoints {
		c.imagePoints[i].Close()
		c.objectPoints[i].Close()
	}
	c.imagePoints = nil
	c.objectPoints = nil
}

func findCorners(img gocv.Mat, pattern ChessboardPattern) (gocv.Point2fVector, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 3 {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	} else {
		img.CopyTo(&gray)
	}

	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(gray, pattern.Size(), &corners, gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage) {
		return gocv.Point2fVector{}, false
	}
	if corners.Rows() != pattern.Rows*pattern.Cols {
		return gocv.Point2fVector{}, false
	}

	pts := make([]gocv.Point2f, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		pts = append(pts, gocv.Point2f{X: v[0], Y: v[1]})
	}
	return gocv.NewPoint2fVectorFromPoints(pts), true
}
