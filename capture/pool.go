package capture

import (
	"fmt"
	"sync"
)

const SlotAvailable = 0x0001
const SlotClaimed = 0x0002
const SlotDisposed = 0x0003

type slot struct {
	src   VideoSource
	state int
}

// Pool is the arena of discovered sources. Ownership transfer out of the pool
// is a move: the slot is flagged claimed and its handle cleared under the same
// lock, so a source can never be owned twice.
type Pool struct {
	mu    sync.Mutex
	slots []slot
}

func NewPool(sources []VideoSource) *Pool {
	p := &Pool{slots: make([]slot, len(sources))}
	for i, s := range sources {
		p.slots[i] = slot{src: s, state: SlotAvailable}
	}
	return p
}

// Devices lists device ids still owned by the pool.
func (p *Pool) Devices() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.slots))
	for _, s := range p.slots {
		if s.state == SlotAvailable {
			out = append(out, s.src.Device())
		}
	}
	return out
}

// Claim moves the requested devices out of the pool. All-or-nothing: if any
// device is not currently available, no ownership changes and an error is
// returned.
func (p *Pool) Claim(devices []int) ([]VideoSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := make([]int, 0, len(devices))
	taken := make(map[int]bool, len(devices))
	for _, d := range devices {
		found := -1
		for i := range p.slots {
			if !taken[i] && p.slots[i].state == SlotAvailable && p.slots[i].src.Device() == d {
				found = i
				taken[i] = true
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("device %d is not in the available pool", d)
		}
		idx = append(idx, found)
	}

	out := make([]VideoSource, 0, len(idx))
	for _, i := range idx {
		out = append(out, p.slots[i].src)
		p.slots[i].src = nil
		p.slots[i].state = SlotClaimed
	}
	return out, nil
}

// DisposeRemaining closes everything still owned by the pool. Disposed
// sources require a fresh discovery before hardware can be reused.
func (p *Pool) DisposeRemaining() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].state == SlotAvailable {
			_ = p.slots[i].src.Close()
			p.slots[i].src = nil
			p.slots[i].state = SlotDisposed
		}
	}
}
