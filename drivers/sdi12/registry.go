package sdi12

import (
	"sync/atomic"

	"sdi12-go/errcode"
	"sdi12-go/x/conv"
)

// Handle identifies a bus within its registry. Zero means none.
type Handle uint8

// MaxBuses is the number of buses one registry can hold.
const MaxBuses = 8

// Registry owns the shared receive buffer and tracks which bus is active.
// The pin interrupt of the active bus is dispatched through it.
type Registry struct {
	rx     *RxBuffer
	buses  [MaxBuses]*Bus
	active atomic.Uint32 // Handle
	txBusy atomic.Uint32 // Handle of the bus currently transmitting
}

// DefaultRegistry is used by buses created without an explicit registry.
var DefaultRegistry = NewRegistry()

// HandleInterrupt dispatches a pin edge to the default registry's active bus.
func HandleInterrupt() { DefaultRegistry.HandleInterrupt() }

// NewRegistry returns an empty registry with its own receive buffer.
func NewRegistry() *Registry {
	return &Registry{rx: NewRxBuffer()}
}

// Buffer returns the shared receive buffer.
func (r *Registry) Buffer() *RxBuffer { return r.rx }

// Active returns the active bus, or nil.
func (r *Registry) Active() *Bus { return r.lookup(Handle(r.active.Load())) }

// HandleInterrupt runs the receiver of the active bus for one edge. With no
// active bus, or an active bus that is not listening, it does nothing.
func (r *Registry) HandleInterrupt() {
	enterISR()
	b := r.lookup(Handle(r.active.Load()))
	if b != nil && b.State() == Listening {
		b.receiveEdge()
	}
	exitISR()
}

func (r *Registry) lookup(h Handle) *Bus {
	if h == 0 || int(h) > MaxBuses {
		return nil
	}
	return r.buses[h-1]
}

func (r *Registry) attach(b *Bus) error {
	s := disableIRQ()
	defer restoreIRQ(s)
	free := -1
	for i, o := range r.buses {
		switch {
		case o == nil:
			if free < 0 {
				free = i
			}
		case o == b:
			return nil
		case o.pin != nil && b.pin != nil && o.pin.Number() == b.pin.Number():
			var buf [8]byte
			return &errcode.E{C: errcode.PinInUse, Op: "sdi12.Begin", Msg: "pin " + string(conv.Itoa(buf[:], int64(b.pin.Number())))}
		}
	}
	if free < 0 {
		return &errcode.E{C: errcode.Busy, Op: "sdi12.Begin", Msg: "registry full"}
	}
	r.buses[free] = b
	b.handle = Handle(free + 1)
	return nil
}

func (r *Registry) detach(b *Bus) {
	s := disableIRQ()
	defer restoreIRQ(s)
	if b.handle == 0 {
		return
	}
	r.active.CompareAndSwap(uint32(b.handle), 0)
	r.txBusy.CompareAndSwap(uint32(b.handle), 0)
	r.buses[b.handle-1] = nil
	b.handle = 0
}

// activateIfIdle makes b active if no bus is.
func (r *Registry) activateIfIdle(b *Bus) {
	r.active.CompareAndSwap(0, uint32(b.handle))
}

func (r *Registry) setActive(b *Bus) bool {
	s := disableIRQ()
	defer restoreIRQ(s)
	if b.handle == 0 {
		b.violation(errcode.Disabled, "SetActive")
	}
	cur := Handle(r.active.Load())
	if cur == b.handle {
		return false
	}
	if tx := Handle(r.txBusy.Load()); tx != 0 && tx != b.handle {
		b.violation(errcode.Transmitting, "SetActive")
	}
	if old := r.lookup(cur); old != nil {
		// The old bus keeps its state word but stops receiving.
		old.disarm()
		old.resetAssembly()
	}
	r.active.Store(uint32(b.handle))
	if b.State() == Listening {
		b.resetAssembly()
		b.arm()
	}
	return true
}

func (r *Registry) isActive(b *Bus) bool {
	return b.handle != 0 && Handle(r.active.Load()) == b.handle
}

// isActiveLocked is isActive for callers already inside a critical section.
func (r *Registry) isActiveLocked(b *Bus) bool { return r.isActive(b) }

// claimTx and releaseTx run with interrupts masked.
func (r *Registry) claimTx(b *Bus, op string) {
	if !r.txBusy.CompareAndSwap(0, uint32(b.handle)) && Handle(r.txBusy.Load()) != b.handle {
		b.violation(errcode.Transmitting, op)
	}
}

func (r *Registry) releaseTx(b *Bus) {
	r.txBusy.CompareAndSwap(uint32(b.handle), 0)
}

// completeStale finishes a character on the active bus whose trailing
// marking bits produced no edge.
func (r *Registry) completeStale() {
	s := disableIRQ()
	defer restoreIRQ(s)
	if b := r.lookup(Handle(r.active.Load())); b != nil && b.State() == Listening {
		b.completeStale()
	}
}

// clear empties the shared buffer with the receiver quiescent.
func (r *Registry) clear() {
	s := disableIRQ()
	defer restoreIRQ(s)
	r.rx.Clear()
	for _, o := range r.buses {
		if o != nil {
			o.overflow.Store(false)
		}
	}
}
