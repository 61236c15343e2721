package pipeline

import (
	"encoding/base64"
	"time"

	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"

	"gocv.io/x/gocv"
)

type DisplayMark struct {
	MarkID int     `json:"markId"`
	Found  bool    `json:"found"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Radius float32 `json:"radius"`
}

type DisplayFrame struct {
	CameraIndex int           `json:"camera"`
	JPEG        string        `json:"jpeg"`
	Marks       []DisplayMark `json:"marks"`
}

// DisplayPacket is the display-ready form of one capture cycle.
type DisplayPacket struct {
	Timestamp time.Time      `json:"timestamp"`
	Frames    []DisplayFrame `json:"frames"`
}

// Converter translates raw framesets and positsets into display packets for
// stream clients, and relays mark-seed events back to the controller. Bound
// to its own worker; clients receive over per-client channels and are dropped
// behind, never blocked on.
type Converter struct {
	worker     *Worker
	arity      int
	lastPosits *iface.Positset
	clients    map[string]chan DisplayPacket
	markSink   func(seed MarkSeed)
}

func NewConverter(w *Worker, arity int) *Converter {
	return &Converter{
		worker:  w,
		arity:   arity,
		clients: make(map[string]chan DisplayPacket),
	}
}

func (v *Converter) Arity() int {
	return v.arity
}

// SetMarkSink wires the seed relay; called during assembly, before traffic.
func (v *Converter) SetMarkSink(fn func(seed MarkSeed)) {
	v.markSink = fn
}

// ProcessPositset runs on the converter worker via subscription.
func (v *Converter) ProcessPositset(ps iface.Positset) {
	v.lastPosits = &ps
}

// ProcessFrameset runs on the converter worker via subscription. The
// converter owns the frameset clone it receives and closes it here.
func (v *Converter) ProcessFrameset(fs Frameset) {
	defer fs.Close()

	packet := DisplayPacket{Timestamp: fs.Timestamp, Frames: make([]DisplayFrame, 0, fs.Arity())}
	for i := range fs.Frames {
		buf, err := gocv.IMEncode(".jpg", fs.Frames[i].Image)
		if err != nil {
			logger.S().Errorf("frame encode failed for camera %d: %v", i, err)
			continue
		}
		jpeg := base64.StdEncoding.EncodeToString(buf.GetBytes())
		buf.Close()

		df := DisplayFrame{CameraIndex: i, JPEG: jpeg}
		if v.lastPosits != nil && i < len(v.lastPosits.Cameras) {
			for _, r := range v.lastPosits.Cameras[i].Results {
				df.Marks = append(df.Marks, DisplayMark{
					MarkID: r.MarkID,
					Found:  r.Found,
					X:      r.Mark.Center.X,
					Y:      r.Mark.Center.Y,
					Radius: r.Mark.Radius,
				})
			}
		}
		packet.Frames = append(packet.Frames, df)
	}

	for id, ch := range v.clients {
		select {
		case ch <- packet:
		default:
			logger.S().Debugf("stream client %s lagging, packet dropped", id)
		}
	}
}

// CreateMark forwards a user-drawn mark seed to the controller. Safe to call
// from any goroutine.
func (v *Converter) CreateMark(seed MarkSeed) {
	v.worker.Post(func() {
		if v.markSink != nil {
			v.markSink(seed)
		}
	})
}

// RegisterClient attaches a stream consumer. The channel is closed when the
// client is unregistered or the converter stops.
func (v *Converter) RegisterClient(id string, ch chan DisplayPacket) {
	v.worker.Post(func() {
		v.clients[id] = ch
	})
}

func (v *Converter) UnregisterClient(id string) {
	v.worker.Post(func() {
		if ch, ok := v.clients[id]; ok {
			close(ch)
			delete(v.clients, id)
		}
	})
}

// Stop posts the deferred-destruction marker for the converter.
func (v *Converter) Stop() {
	v.worker.Post(func() {
		for id, ch := range v.clients {
			close(ch)
			delete(v.clients, id)
		}
		v.lastPosits = nil
	})
}
