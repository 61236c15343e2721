package app

import (
	"fmt"
	"testing"

	"MarkTrackServer/capture"
	iface "MarkTrackServer/interface"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

type fakeCam struct {
	device int
}

func (f *fakeCam) Device() int {
	return f.device
}

func (f *fakeCam) Grab(dst *gocv.Mat) bool {
	m := gocv.NewMatWithSize(48, 48, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return true
}

func (f *fakeCam) Close() error {
	return nil
}

func fakeOpener(device int) (capture.VideoSource, error) {
	if device <= 1 {
		return &fakeCam{device: device}, nil
	}
	return nil, fmt.Errorf("device %d does not exist", device)
}

func TestApplication_All(t *testing.T) {
	application := New(iface.DefaultParameters(), fakeOpener, true)
	defer application.Close()

	var topology []int
	application.SubscribeTopology(func(arity int) {
		topology = append(topology, arity)
	})

	t.Run("Test Initial State", func(t *testing.T) {
		assert.Equal(t, StateIdle, application.State())
		assert.Equal(t, 0, application.Arity())
	})

	t.Run("Test Assemble Before Discovery", func(t *testing.T) {
		assert.Error(t, application.AssemblePipeline([]int{0}, "template"))
	})

	t.Run("Test Start Before Assembly", func(t *testing.T) {
		assert.Error(t, application.StartPipeline(false))
		assert.Error(t, application.Step())
	})

	t.Run("Test Discover", func(t *testing.T) {
		assert.Equal(t, []int{0, 1}, application.DiscoverSources())
		assert.Equal(t, StateIdle, application.State())
	})

	t.Run("Test Assemble Unknown Strategy", func(t *testing.T) {
		assert.Error(t, application.AssemblePipeline([]int{0, 1}, "bogus"))
		assert.Equal(t, StateIdle, application.State())
	})

	t.Run("Test Assemble", func(t *testing.T) {
		assert.NoError(t, application.AssemblePipeline([]int{0, 1}, "template"))
		assert.Equal(t, StateAssembled, application.State())
		assert.Equal(t, 2, application.Arity())
		assert.Equal(t, []int{2}, topology)
		assert.NotNil(t, application.Converter())
	})

	t.Run("Test Sources Moved Out Of Pool", func(t *testing.T) {
		err := application.AssemblePipeline([]int{0, 1}, "template")
		assert.Error(t, err)
		// failed assembly keeps the running pipeline
		assert.Equal(t, 2, application.Arity())
		assert.Equal(t, StateAssembled, application.State())
	})

	t.Run("Test Calibration Arity Invariant", func(t *testing.T) {
		bad := iface.CalibrationData{Cameras: make([]iface.CameraParameters, 3)}
		assert.Error(t, application.ApplyCalibrationData(bad))
		_, ok := application.CalibrationData()
		assert.False(t, ok)
	})

	t.Run("Test Apply Calibration", func(t *testing.T) {
		var broadcast []int
		application.SubscribeCalibration(func(data iface.CalibrationData) {
			broadcast = append(broadcast, data.Arity())
		})
		data := iface.CalibrationData{Cameras: make([]iface.CameraParameters, 2)}
		assert.NoError(t, application.ApplyCalibrationData(data))
		got, ok := application.CalibrationData()
		assert.True(t, ok)
		assert.Equal(t, 2, got.Arity())
		assert.Equal(t, []int{2}, broadcast)
	})

	t.Run("Test Start And Step", func(t *testing.T) {
		assert.NoError(t, application.StartPipeline(false))
		assert.Equal(t, StateRunning, application.State())
		assert.NoError(t, application.Step())
	})

	t.Run("Test Start While Running Rejected", func(t *testing.T) {
		assert.Error(t, application.StartPipeline(false))
		assert.Equal(t, StateRunning, application.State())
	})

	t.Run("Test Mark Seeding", func(t *testing.T) {
		mark := iface.Mark{Type: iface.MarkCircle, Center: iface.Position{X: 24, Y: 24}, Radius: 4}
		assert.NoError(t, application.SetMark(0, 1, mark))
		assert.NoError(t, application.Step())
	})

	t.Run("Test Teardown", func(t *testing.T) {
		application.TeardownPipeline()
		assert.Equal(t, StateIdle, application.State())
		assert.Equal(t, 0, application.Arity())
		assert.Equal(t, []int{2, 0}, topology)
		_, ok := application.CalibrationData()
		assert.False(t, ok)
		assert.Error(t, application.Step())
		assert.Nil(t, application.Converter())
	})

	t.Run("Test Reassembly After Discovery", func(t *testing.T) {
		assert.Equal(t, []int{0, 1}, application.DiscoverSources())
		assert.NoError(t, application.AssemblePipeline([]int{0}, "circle"))
		assert.Equal(t, 1, application.Arity())
	})
}

func TestStateName_All(t *testing.T) {
	t.Run("Test Names", func(t *testing.T) {
		assert.Equal(t, "idle", StateName(StateIdle))
		assert.Equal(t, "assembled", StateName(StateAssembled))
		assert.Equal(t, "running", StateName(StateRunning))
		assert.Equal(t, "unknown", StateName(0))
	})
}
