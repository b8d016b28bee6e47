package protocol

import "sync"

// MessagePool is the peer-level outgoing-message allocator. It is a
// thin sync.Pool wrapper: Get hands out a reset OutgoingMessage, and
// put (called only from OutgoingMessage.release, when its
// unfinished-sendings refcount reaches zero) returns it for reuse.
type MessagePool struct {
	pool sync.Pool
}

// NewMessagePool creates a pool whose items start with capacityHint
// bytes of backing array.
func NewMessagePool(capacityHint int) *MessagePool {
	p := &MessagePool{}
	p.pool.New = func() interface{} {
		return newOutgoingMessage(capacityHint)
	}
	return p
}

// Get returns a clean OutgoingMessage, creating one if the pool is
// empty.
func (p *MessagePool) Get() *OutgoingMessage {
	m := p.pool.Get().(*OutgoingMessage)
	m.pool = p
	return m
}

func (p *MessagePool) put(m *OutgoingMessage) {
	m.reset()
	p.pool.Put(m)
}
