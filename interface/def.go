package iface

import "time"

const MarkCircle = 0x0001
const MarkRectangle = 0x0002

type Position struct {
	X, Y float32
}

// Mark is one detected or seeded marker. Values are produced fresh on every
// match, they are never mutated in place.
type Mark struct {
	Type   int
	Center Position
	Radius float32
	Width  float32
	Height float32
}

type Frame struct {
	CameraIndex int
	Timestamp   time.Time
}

// MarkResult is the per-marker outcome for one camera in one capture cycle.
// Found == false is an ordinary "not this frame" outcome, not a fault.
type MarkResult struct {
	MarkID int
	Found  bool
	Mark   Mark
}

type CameraPosits struct {
	CameraIndex int
	Results     []MarkResult
}

// Positset is structurally parallel to a frameset: one entry per active
// camera, all from the same capture cycle.
type Positset struct {
	Arity     int
	Timestamp time.Time
	Cameras   []CameraPosits
}

type Point3 struct {
	X, Y, Z float64
}

type Location struct {
	MarkID int
	Valid  bool
	Point  Point3
}

type Locationset struct {
	Timestamp time.Time
	Locations []Location
}

type CameraParameters struct {
	CameraMatrix [9]float64
	DistCoeffs   [5]float64
	Rotation     [9]float64
	Translation  [3]float64
	ReprojError  float64
}

// CalibrationData is owned canonically by the orchestrator; everyone else
// holds an independent copy obtained from the broadcast.
type CalibrationData struct {
	Cameras []CameraParameters
}

func (c CalibrationData) Arity() int {
	return len(c.Cameras)
}

// Parameters carries the numeric tunables, read-only after config load.
type Parameters struct {
	MaxArity          int     `yaml:"maxArity"`
	TemplateThreshold float64 `yaml:"templateThreshold"`
	SearchFactor      float64 `yaml:"searchFactor"`
	CircleAccumulator float64 `yaml:"circleAccumulator"`
	HistThreshold     float64 `yaml:"histThreshold"`
	CalibrationRows   int     `yaml:"calibrationRows"`
	CalibrationCols   int     `yaml:"calibrationCols"`
	CalibrationSize   float64 `yaml:"calibrationSize"`
	CalibrationShots  int     `yaml:"calibrationShots"`
}

func DefaultParameters() Parameters {
	return Parameters{
		MaxArity:          4,
		TemplateThreshold: 0.5,
		SearchFactor:      2.0,
		CircleAccumulator: 30,
		HistThreshold:     0.7,
		CalibrationRows:   6,
		CalibrationCols:   9,
		CalibrationSize:   0.026,
		CalibrationShots:  20,
	}
}
