package pipeline

import (
	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"
	"MarkTrackServer/monitor"
	"MarkTrackServer/tracker"

	"go.uber.org/zap"
)

type framesetSub struct {
	w  *Worker
	fn func(Frameset)
}

type positsetSub struct {
	w  *Worker
	fn func(iface.Positset)
}

type calibSub struct {
	w  *Worker
	fn func(iface.CalibrationData)
}

type locationSub struct {
	w  *Worker
	fn func(iface.Locationset)
}

// Controller drives one frameset per cycle through tracking for every camera
// and every known marker, and publishes the results to its subscribers. It is
// parameterized by arity at construction and immutable thereafter. All state
// is touched only on its own worker; external calls post events.
type Controller struct {
	worker     *Worker
	params     iface.Parameters
	aggregator *Aggregator
	tracker    *tracker.Tracker
	calibrator Calibrator
	locator    Locator

	running         bool
	calibrationOnly bool
	calib           *iface.CalibrationData
	pendingSeeds    []MarkSeed

	framesetSubs []framesetSub
	positsetSubs []positsetSub
	calibSubs    []calibSub
	locationSubs []locationSub
}

func NewController(w *Worker, params iface.Parameters, agg *Aggregator, trk *tracker.Tracker, cal Calibrator, loc Locator) *Controller {
	return &Controller{
		worker:     w,
		params:     params,
		aggregator: agg,
		tracker:    trk,
		calibrator: cal,
		locator:    loc,
	}
}

func (c *Controller) Arity() int {
	return c.aggregator.Arity()
}

// Subscribe* wire a consumer callback to run on the consumer's own worker.
// Subscriptions are assembled before Start and never change while running.

func (c *Controller) SubscribeFrameset(w *Worker, fn func(Frameset)) {
	c.framesetSubs = append(c.framesetSubs, framesetSub{w: w, fn: fn})
}

func (c *Controller) SubscribePositset(w *Worker, fn func(iface.Positset)) {
	c.positsetSubs = append(c.positsetSubs, positsetSub{w: w, fn: fn})
}

func (c *Controller) SubscribeCalibration(w *Worker, fn func(iface.CalibrationData)) {
	c.calibSubs = append(c.calibSubs, calibSub{w: w, fn: fn})
}

func (c *Controller) SubscribeLocations(w *Worker, fn func(iface.Locationset)) {
	c.locationSubs = append(c.locationSubs, locationSub{w: w, fn: fn})
}

// Start begins the frame loop. It is posted onto the controller's own worker,
// so the first cycle can only run after the caller's assembly (including all
// subscriptions) has completed.
func (c *Controller) Start(calibrationOnly bool) {
	c.worker.Post(func() {
		c.running = true
		c.calibrationOnly = calibrationOnly
		logger.Log().Info("controller started",
			zap.Int("arity", c.Arity()),
			zap.Bool("calibrationOnly", calibrationOnly))
		if !c.worker.Inline() {
			c.worker.Post(c.cycle)
		}
	})
}

// Step runs exactly one cycle; the driver for inline workers and tests.
func (c *Controller) Step() {
	c.worker.Post(c.cycle)
}

// SetMark seeds or reseeds a tracker's reference state; applied on the next
// frameset, which is the image the reference patch is cropped from.
func (c *Controller) SetMark(cam int, markID int, mark iface.Mark) {
	c.worker.Post(func() {
		c.pendingSeeds = append(c.pendingSeeds, MarkSeed{CameraIndex: cam, MarkID: markID, Mark: mark})
	})
}

// SetCalibrationData installs the controller's private copy of the broadcast
// calibration data.
func (c *Controller) SetCalibrationData(data iface.CalibrationData) {
	c.worker.Post(func() {
		if data.Arity() != c.Arity() {
			logger.Log().Error("calibration data arity mismatch ignored",
				zap.Int("data", data.Arity()), zap.Int("controller", c.Arity()))
			return
		}
		copied := data
		c.calib = &copied
	})
}

// Stop posts the deferred-destruction marker: resources are released only
// after every event queued before it has been processed. The owner must still
// Stop and Join the worker afterwards.
func (c *Controller) Stop() {
	c.worker.Post(func() {
		c.running = false
		c.tracker.Close()
		c.aggregator.Close()
		logger.Log().Info("controller stopped")
	})
}

func (c *Controller) cycle() {
	if !c.running {
		return
	}
	fs, ok := c.aggregator.ReadFrameset()
	if !ok {
		logger.Log().Warn("frameset aggregation failed, controller halting")
		c.running = false
		return
	}
	defer fs.Close()
	monitor.FramesetsTotal.Inc()

	c.applySeeds(fs)

	if c.calibrationOnly {
		if c.calibrator != nil && c.calibrator.Feed(fs) {
			data := c.calibrator.Data()
			c.emitCalibration(data)
			c.calibrationOnly = false
		}
	} else {
		ps := c.trackFrameset(fs)
		c.emitPositset(ps)
		if c.calib != nil && c.locator != nil {
			c.emitLocations(c.locator.Locate(ps, *c.calib))
		}
	}

	c.emitFrameset(fs)

	if !c.worker.Inline() && c.running {
		c.worker.Post(c.cycle)
	}
}

func (c *Controller) applySeeds(fs Frameset) {
	for _, seed := range c.pendingSeeds {
		if seed.CameraIndex < 0 || seed.CameraIndex >= fs.Arity() {
			logger.Log().Warn("mark seed for unknown camera dropped",
				zap.Int("camera", seed.CameraIndex))
			continue
		}
		c.tracker.SetMark(seed.CameraIndex, seed.MarkID, seed.Mark, fs.Frames[seed.CameraIndex].Image)
	}
	c.pendingSeeds = c.pendingSeeds[:0]
}

func (c *Controller) trackFrameset(fs Frameset) iface.Positset {
	ps := iface.Positset{
		Arity:     fs.Arity(),
		Timestamp: fs.Timestamp,
		Cameras:   make([]iface.CameraPosits, fs.Arity()),
	}
	for i := range fs.Frames {
		results := c.tracker.TrackFrame(i, fs.Frames[i].Image)
		for _, r := range results {
			if r.Found {
				monitor.MarksFoundTotal.Inc()
			} else {
				monitor.MarksLostTotal.Inc()
			}
		}
		ps.Cameras[i] = iface.CameraPosits{CameraIndex: i, Results: results}
	}
	return ps
}

func (c *Controller) emitFrameset(fs Frameset) {
	for _, sub := range c.framesetSubs {
		clone := fs.Clone()
		fn := sub.fn
		if !sub.w.Post(func() { fn(clone) }) {
			clone.Close()
		}
	}
}

func (c *Controller) emitPositset(ps iface.Positset) {
	for _, sub := range c.positsetSubs {
		fn := sub.fn
		sub.w.Post(func() { fn(ps) })
	}
}

func (c *Controller) emitCalibration(data iface.CalibrationData) {
	logger.Log().Info("calibration complete", zap.Int("arity", data.Arity()))
	for _, sub := range c.calibSubs {
		fn := sub.fn
		sub.w.Post(func() { fn(data) })
	}
}

func (c *Controller) emitLocations(ls iface.Locationset) {
	for _, sub := range c.locationSubs {
		fn := sub.fn
		sub.w.Post(func() { fn(ls) })
	}
}
