package app

import (
	"fmt"
	"sync"

	"MarkTrackServer/calib"
	"MarkTrackServer/capture"
	iface "MarkTrackServer/interface"
	"MarkTrackServer/localization"
	"MarkTrackServer/logger"
	"MarkTrackServer/monitor"
	"MarkTrackServer/pipeline"
	"MarkTrackServer/tracker"

	"go.uber.org/zap"
)

// Application owns the mutable pipeline topology: it discovers camera
// sources, assembles and discards the controller/converter group when the
// topology changes, manages worker lifetimes, and is the canonical holder of
// calibration data. Pipeline objects are torn down with the deferred
// destruction protocol: replacement first, then the destruction marker on the
// old object's queue, then stop and join its worker.
type Application struct {
	params       iface.Parameters
	open         capture.Opener
	singleThread bool

	mu               sync.Mutex
	state            int
	pool             *capture.Pool
	arity            int
	controller       *pipeline.Controller
	converter        *pipeline.Converter
	controllerWorker *pipeline.Worker
	converterWorker  *pipeline.Worker
	calibrator       *calib.CameraCalibration
	calibData        *iface.CalibrationData

	calibSubs    []func(iface.CalibrationData)
	topologySubs []func(arity int)
}

func New(params iface.Parameters, open capture.Opener, singleThread bool) *Application {
	return &Application{
		params:       params,
		open:         open,
		singleThread: singleThread,
		state:        StateIdle,
	}
}

func (a *Application) State() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Application) Arity() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.arity
}

// CalibrationData returns a copy of the canonical calibration, if any.
func (a *Application) CalibrationData() (iface.CalibrationData, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calibData == nil {
		return iface.CalibrationData{}, false
	}
	return *a.calibData, true
}

// SubscribeCalibration registers an external observer of calibration-data
// changes. Subscribers receive independent copies, never back-references.
func (a *Application) SubscribeCalibration(fn func(iface.CalibrationData)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calibSubs = append(a.calibSubs, fn)
}

// SubscribeTopology registers an observer notified on every arity change.
func (a *Application) SubscribeTopology(fn func(arity int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.topologySubs = append(a.topologySubs, fn)
}

// DiscoverSources probes candidate devices synchronously; expect it to block
// for a duration proportional to maxArity. Any assembled pipeline is torn
// down first so discovery starts from a clean slate.
func (a *Application) DiscoverSources() []int {
	a.TeardownPipeline()

	a.mu.Lock()
	open := a.open
	maxArity := a.params.MaxArity
	oldPool := a.pool
	a.mu.Unlock()

	if oldPool != nil {
		oldPool.DisposeRemaining()
	}

	sources := capture.Discover(open, maxArity)

	a.mu.Lock()
	a.pool = capture.NewPool(sources)
	devices := a.pool.Devices()
	a.mu.Unlock()

	logger.Log().Info("source discovery finished", zap.Ints("devices", devices))
	return devices
}

// AssemblePipeline moves exactly the chosen sources out of the available pool
// into a new controller group and wires all inter-component subscriptions.
// All-or-nothing: on any error no ownership changes and the previous state is
// kept. The topology-changed notification fires before returning.
func (a *Application) AssemblePipeline(devices []int, strategy string) error {
	if len(devices) == 0 {
		return fmt.Errorf("no sources chosen")
	}

	backend, err := tracker.NewBackend(strategy, a.params)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.pool == nil {
		a.mu.Unlock()
		return fmt.Errorf("no discovery has run")
	}
	sources, err := a.pool.Claim(devices)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	// Chosen sources are transferred; whatever is left in the pool is
	// disposed, a fresh discovery is needed to reuse it.
	a.pool.DisposeRemaining()

	oldController, oldConverter := a.controller, a.converter
	oldControllerWorker, oldConverterWorker := a.controllerWorker, a.converterWorker
	oldCalibrator := a.calibrator

	arity := len(sources)
	agg := pipeline.NewAggregator(sources)
	trk := tracker.NewTracker(arity, a.params, backend)
	pattern := calib.ChessboardPattern{
		Rows:       a.params.CalibrationRows,
		Cols:       a.params.CalibrationCols,
		SquareSize: a.params.CalibrationSize,
	}
	calibrator := calib.NewCameraCalibration(a.params, arity, pattern)
	locator := localization.NewLinear(arity)

	controllerWorker := pipeline.NewWorker(a.singleThread)
	converterWorker := pipeline.NewWorker(a.singleThread)
	controller := pipeline.NewController(controllerWorker, a.params, agg, trk, calibrator, locator)
	converter := pipeline.NewConverter(converterWorker, arity)

	controller.SubscribeFrameset(converterWorker, converter.ProcessFrameset)
	controller.SubscribePositset(converterWorker, converter.ProcessPositset)
	converter.SetMarkSink(func(seed pipeline.MarkSeed) {
		controller.SetMark(seed.CameraIndex, seed.MarkID, seed.Mark)
	})
	// Calibration the controller derives itself flows through the
	// orchestrator, which is its canonical holder.
	controller.SubscribeCalibration(controllerWorker, func(data iface.CalibrationData) {
		if err := a.ApplyCalibrationData(data); err != nil {
			logger.Log().Error("derived calibration rejected", zap.Error(err))
		}
	})

	a.arity = arity
	a.controller = controller
	a.converter = converter
	a.controllerWorker = controllerWorker
	a.converterWorker = converterWorker
	a.calibrator = calibrator
	a.calibData = nil
	a.state = StateAssembled
	topoSubs := append([]func(int){}, a.topologySubs...)
	a.mu.Unlock()

	destroyGroup(oldController, oldConverter, oldControllerWorker, oldConverterWorker, oldCalibrator)

	monitor.PipelineRebuilds.Inc()
	monitor.PipelineArity.Set(float64(arity))
	logger.Log().Info("pipeline assembled",
		zap.Int("arity", arity), zap.String("strategy", backend.Name()), zap.Ints("devices", devices))

	for _, fn := range topoSubs {
		fn(arity)
	}
	return nil
}

// StartPipeline issues the asynchronous start request: the controller begins
// running on its own worker, after all assembly-time subscriptions are
// already active.
func (a *Application) StartPipeline(calibrationOnly bool) error {
	a.mu.Lock()
	if a.state == StateRunning {
		a.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	if a.state != StateAssembled {
		a.mu.Unlock()
		return fmt.Errorf("no pipeline assembled")
	}
	ctrl := a.controller
	a.state = StateRunning
	a.mu.Unlock()

	ctrl.Start(calibrationOnly)
	return nil
}

// Step drives one frame cycle; the driver for single-threaded mode and tests.
func (a *Application) Step() error {
	a.mu.Lock()
	ctrl := a.controller
	a.mu.Unlock()
	if ctrl == nil {
		return fmt.Errorf("no pipeline assembled")
	}
	ctrl.Step()
	return nil
}

// SetMark seeds tracker reference state for one camera.
func (a *Application) SetMark(cam int, markID int, mark iface.Mark) error {
	a.mu.Lock()
	ctrl := a.controller
	a.mu.Unlock()
	if ctrl == nil {
		return fmt.Errorf("no pipeline assembled")
	}
	ctrl.SetMark(cam, markID, mark)
	return nil
}

// ApplyCalibrationData stores the canonical calibration copy and rebroadcasts
// it to the controller and every other subscriber. The data's arity must
// match the live pipeline arity.
func (a *Application) ApplyCalibrationData(data iface.CalibrationData) error {
	a.mu.Lock()
	if a.controller == nil {
		a.mu.Unlock()
		return fmt.Errorf("no pipeline assembled")
	}
	if data.Arity() != a.arity {
		a.mu.Unlock()
		return fmt.Errorf("calibration arity %d does not match pipeline arity %d", data.Arity(), a.arity)
	}
	copied := data
	a.calibData = &copied
	ctrl := a.controller
	subs := append([]func(iface.CalibrationData){}, a.calibSubs...)
	a.mu.Unlock()

	ctrl.SetCalibrationData(data)
	for _, fn := range subs {
		fn(data)
	}
	logger.Log().Info("calibration data applied", zap.Int("arity", data.Arity()))
	return nil
}

// TeardownPipeline stops the controller group and returns to idle. Sources
// the pipeline owned are disposed with it; stale calibration is discarded.
func (a *Application) TeardownPipeline() {
	a.mu.Lock()
	if a.state == StateIdle && a.controller == nil {
		a.mu.Unlock()
		return
	}
	ctrl, conv := a.controller, a.converter
	cw, vw := a.controllerWorker, a.converterWorker
	calibrator := a.calibrator
	a.controller, a.converter = nil, nil
	a.controllerWorker, a.converterWorker = nil, nil
	a.calibrator = nil
	a.calibData = nil
	a.arity = 0
	a.state = StateIdle
	topoSubs := append([]func(int){}, a.topologySubs...)
	a.mu.Unlock()

	destroyGroup(ctrl, conv, cw, vw, calibrator)

	monitor.PipelineArity.Set(0)
	logger.Log().Info("pipeline torn down")
	for _, fn := range topoSubs {
		fn(0)
	}
}

// Converter exposes the live converter for stream client registration.
func (a *Application) Converter() *pipeline.Converter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.converter
}

// Close tears everything down, including the available pool.
func (a *Application) Close() {
	a.TeardownPipeline()
	a.mu.Lock()
	pool := a.pool
	a.pool = nil
	a.mu.Unlock()
	if pool != nil {
		pool.DisposeRemaining()
	}
}

// destroyGroup runs the deferred-destruction protocol on a replaced pipeline
// group: destruction markers are queued behind any in-flight events, then the
// workers drain and are joined. Never destroy before the drain.
func destroyGroup(ctrl *pipeline.Controller, conv *pipeline.Converter, cw, vw *pipeline.Worker, calibrator *calib.CameraCalibration) {
	if ctrl != nil {
		ctrl.Stop()
	}
	if conv != nil {
		conv.Stop()
	}
	if cw != nil {
		cw.Stop()
	}
	if vw != nil {
		vw.Stop()
	}
	if cw != nil {
		cw.Join()
	}
	if vw != nil {
		vw.Join()
	}
	if calibrator != nil {
		calibrator.Close()
	}
}
