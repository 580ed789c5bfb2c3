package coretest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
)

var ErrPipeDown = errors.New("pipe down")

// Hub is an in-memory signaling relay. Frames with a recipientId go to
// that pipe, others to every pipe except the sender's.
type Hub struct {
	mu    sync.Mutex
	pipes map[string]*Pipe
	sent  []Frame
}

func NewHub() *Hub {
	return &Hub{pipes: make(map[string]*Pipe)}
}

func (h *Hub) Connect(id string) *Pipe {
	p := &Pipe{id: id, hub: h, in: make(chan core.Frame, 1024)}
	h.mu.Lock()
	h.pipes[id] = p
	h.mu.Unlock()
	return p
}

type Frame struct {
	From        string
	Type        string
	RecipientID string
	Raw         core.Frame
}

func (h *Hub) route(from *Pipe, f core.Frame) {
	var env struct {
		Type        string `json:"type"`
		RecipientID string `json:"recipientId"`
	}
	_ = json.Unmarshal(f, &env)

	h.mu.Lock()
	h.sent = append(h.sent, Frame{From: from.id, Type: env.Type, RecipientID: env.RecipientID, Raw: f})
	var targets []*Pipe
	for id, p := range h.pipes {
		if id == from.id {
			continue
		}
		if env.RecipientID == "" || env.RecipientID == id {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	for _, p := range targets {
		p.deliver(f)
	}
}

// Sent lists every routed frame, optionally filtered by sender and type.
func (h *Hub) Sent(from, typ string) []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Frame
	for _, f := range h.sent {
		if (from == "" || f.From == from) && (typ == "" || f.Type == typ) {
			out = append(out, f)
		}
	}
	return out
}

// Inject delivers a raw frame to the pipe id as if the relay sent it.
func (h *Hub) Inject(id string, f core.Frame) {
	h.mu.Lock()
	p := h.pipes[id]
	h.mu.Unlock()
	if p != nil {
		p.deliver(f)
	}
}

type Pipe struct {
	id  string
	hub *Hub
	in  chan core.Frame

	mu     sync.Mutex
	closed bool
	down   bool
	status func(bool)
}

func (p *Pipe) TrySend(f core.Frame) error {
	p.mu.Lock()
	closed, down := p.closed, p.down
	p.mu.Unlock()
	if closed || down {
		return ErrPipeDown
	}
	p.hub.route(p, append(core.Frame(nil), f...))
	return nil
}

func (p *Pipe) Receive() <-chan core.Frame { return p.in }

func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.in)
}

func (p *Pipe) OnStatus(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = fn
}

// SetDown simulates a transport outage (true) or recovery (false).
func (p *Pipe) SetDown(down bool) {
	p.mu.Lock()
	p.down = down
	cb := p.status
	p.mu.Unlock()
	if cb != nil {
		cb(!down)
	}
}

func (p *Pipe) deliver(f core.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.down {
		return
	}
	select {
	case p.in <- f:
	default:
	}
}

var (
	_ core.SignalConnection = (*Pipe)(nil)
	_ core.StatusNotifier   = (*Pipe)(nil)
)
