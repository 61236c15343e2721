package capture

import (
	"fmt"

	"MarkTrackServer/logger"

	"gocv.io/x/gocv"
)

// VideoSource is one camera capture handle. A source has exactly one owner at
// any time: the available pool or the controller it was transferred to.
type VideoSource interface {
	Device() int
	// Grab reads the next frame into dst; false means no frame is available.
	Grab(dst *gocv.Mat) bool
	Close() error
}

// Opener probes one candidate device id. Injectable so discovery and pipeline
// tests run against fake sources instead of hardware.
type Opener func(device int) (VideoSource, error)

type CameraSource struct {
	device int
	cap    *gocv.VideoCapture
}

func OpenCamera(device int) (VideoSource, error) {
	cap, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, err
	}
	if !cap.IsOpened() {
		_ = cap.Close()
		return nil, fmt.Errorf("device %d did not open", device)
	}
	return &CameraSource{device: device, cap: cap}, nil
}

func (c *CameraSource) Device() int {
	return c.device
}

func (c *CameraSource) Grab(dst *gocv.Mat) bool {
	return c.cap.Read(dst) && !dst.Empty()
}

func (c *CameraSource) Close() error {
	return c.cap.Close()
}

// Discover scans device ids from 0 upward. A candidate counts as available
// only if it opens and yields at least one frame. Scanning stops after skip
// cumulative misses (skip = maxArity) or after 2*maxArity attempts total,
// whichever comes first. Synchronous: expect it to block for a duration
// proportional to maxArity.
func Discover(open Opener, maxArity int) []VideoSource {
	skip := maxArity
	tests := 2 * maxArity
	device := 0
	errors := 0
	var found []VideoSource
	for {
		src, err := open(device)
		if err == nil {
			probe := gocv.NewMat()
			if src.Grab(&probe) {
				found = append(found, src)
				logger.S().Infof("found working camera device %d", device)
			} else {
				_ = src.Close()
				err = fmt.Errorf("device %d yields no frames", device)
			}
			probe.Close()
		}
		if err != nil {
			logger.S().Infof("camera device %d not working: %v", device, err)
			errors++
			if errors >= skip {
				break
			}
		}
		device++
		if device >= tests {
			break
		}
	}
	return found
}
