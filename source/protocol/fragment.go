package protocol

import "net"

// FragmentOutcome is the result of inserting one fragment into the
// assembler.
type FragmentOutcome int

const (
	FragmentInvalid FragmentOutcome = iota
	FragmentDuplicate
	FragmentPartial
	FragmentCompleted
)

// FragmentAssembler stores partial inbound messages keyed by group id
// until all of their fragments arrive. One assembler lives per
// connection.
type FragmentAssembler struct {
	groups map[uint16]*fragmentGroup
}

type fragmentGroup struct {
	msg      *IncomingMessage
	fragSize int
}

// NewFragmentAssembler returns an empty assembler.
func NewFragmentAssembler() *FragmentAssembler {
	return &FragmentAssembler{groups: make(map[uint16]*fragmentGroup)}
}

// Insert records one fragment. index >= total is rejected as Invalid.
// A repeat of an already-received index is Duplicate. Otherwise the
// fragment's payload is copied into the reassembly buffer at
// index*fragSize, growing it if needed; when every fragment has
// arrived the assembled message is returned with FragmentCompleted and
// the group is forgotten.
func (a *FragmentAssembler) Insert(group uint16, total, index, fragSize int, payload []byte, msgType MessageType, seqNr uint16, sender net.Addr) (FragmentOutcome, *IncomingMessage) {
	if index >= total || total <= 0 {
		return FragmentInvalid, nil
	}

	g, ok := a.groups[group]
	if !ok {
		g = &fragmentGroup{
			fragSize: fragSize,
			msg: &IncomingMessage{
				Type:   msgType,
				SeqNr:  seqNr,
				Sender: sender,
				fragment: &fragmentState{
					group:        group,
					total:        total,
					fragSize:     fragSize,
					receivedBits: make([]bool, total),
				},
			},
		}
		a.groups[group] = g
	}
	fs := g.msg.fragment
	if fs.receivedBits[index] {
		return FragmentDuplicate, nil
	}

	offset := index * fragSize
	needed := offset + len(payload)
	if needed > len(g.msg.Payload) {
		grown := make([]byte, needed)
		copy(grown, g.msg.Payload)
		g.msg.Payload = grown
	}
	copy(g.msg.Payload[offset:], payload)

	fs.receivedBits[index] = true
	fs.receivedCount++

	if bits := needed * 8; bits > g.msg.BitLength {
		g.msg.BitLength = bits
	}

	if fs.receivedCount == fs.total {
		msg := g.msg
		msg.fragment = nil
		delete(a.groups, group)
		return FragmentCompleted, msg
	}
	return FragmentPartial, nil
}

// Drop discards an in-progress group, e.g. when its connection closes.
func (a *FragmentAssembler) Drop(group uint16) {
	delete(a.groups, group)
}
