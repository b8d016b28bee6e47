package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MessageHeaderSize is the fixed header every wire message starts
// with: 1 byte message-type, 2 bytes sequence number (LE), 2 bytes
// bit-length (LE).
const MessageHeaderSize = 5

// FragmentHeaderSize is the header immediately following the message
// header for a fragmented message: 2 bytes group id, 2 bytes total
// fragment count, 2 bytes fragment index (all LE).
const FragmentHeaderSize = 6

// AckEntrySize is the size of one (message-type, sequence-number)
// entry in a Library Ack payload.
const AckEntrySize = 3

// fragmentFlag is reserved in the bit-length field's high bit to mark
// a message as fragmented; the low 15 bits carry the bit length.
const fragmentFlag = 0x8000

// EncodeMessageHeader writes the 5-byte message header. isFragment
// sets the high bit of the bit-length field per §6's wire format note.
func EncodeMessageHeader(buf []byte, msgType MessageType, seqNr uint16, bitLength int, isFragment bool) []byte {
	hdr := make([]byte, MessageHeaderSize)
	hdr[0] = byte(msgType)
	binary.LittleEndian.PutUint16(hdr[1:3], seqNr)
	bl := uint16(bitLength) & (fragmentFlag - 1)
	if isFragment {
		bl |= fragmentFlag
	}
	binary.LittleEndian.PutUint16(hdr[3:5], bl)
	return append(buf, hdr...)
}

// DecodeMessageHeader reads the 5-byte message header from the front
// of buf, returning the type, sequence number, payload bit length,
// fragmentation flag, and the number of bytes consumed.
func DecodeMessageHeader(buf []byte) (msgType MessageType, seqNr uint16, bitLength int, isFragment bool, n int, err error) {
	if len(buf) < MessageHeaderSize {
		return 0, 0, 0, false, 0, fmt.Errorf("protocol: short message header (%d bytes)", len(buf))
	}
	msgType = MessageType(buf[0])
	seqNr = binary.LittleEndian.Uint16(buf[1:3])
	raw := binary.LittleEndian.Uint16(buf[3:5])
	isFragment = raw&fragmentFlag != 0
	bitLength = int(raw &^ fragmentFlag)
	return msgType, seqNr, bitLength, isFragment, MessageHeaderSize, nil
}

// EncodeFragmentHeader writes the 6-byte fragment header.
func EncodeFragmentHeader(buf []byte, group, total, index uint16) []byte {
	hdr := make([]byte, FragmentHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], group)
	binary.LittleEndian.PutUint16(hdr[2:4], total)
	binary.LittleEndian.PutUint16(hdr[4:6], index)
	return append(buf, hdr...)
}

// DecodeFragmentHeader reads the 6-byte fragment header from the front
// of buf.
func DecodeFragmentHeader(buf []byte) (group, total, index uint16, n int, err error) {
	if len(buf) < FragmentHeaderSize {
		return 0, 0, 0, 0, fmt.Errorf("protocol: short fragment header (%d bytes)", len(buf))
	}
	group = binary.LittleEndian.Uint16(buf[0:2])
	total = binary.LittleEndian.Uint16(buf[2:4])
	index = binary.LittleEndian.Uint16(buf[4:6])
	return group, total, index, FragmentHeaderSize, nil
}

// EncodePing writes a Library Ping payload: a single ping id byte.
func EncodePing(pingID byte) []byte {
	return []byte{pingID}
}

// DecodePing reads a Library Ping payload.
func DecodePing(buf []byte) (pingID byte, err error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("protocol: empty ping payload")
	}
	return buf[0], nil
}

// EncodePong writes a Library Pong payload: the echoed ping id plus
// the responder's local time as an IEEE-754 double, little-endian.
func EncodePong(pingID byte, remoteTime float64) []byte {
	buf := make([]byte, 9)
	buf[0] = pingID
	binary.LittleEndian.PutUint64(buf[1:9], math.Float64bits(remoteTime))
	return buf
}

// DecodePong reads a Library Pong payload.
func DecodePong(buf []byte) (pingID byte, remoteTime float64, err error) {
	if len(buf) < 9 {
		return 0, 0, fmt.Errorf("protocol: short pong payload (%d bytes)", len(buf))
	}
	pingID = buf[0]
	remoteTime = math.Float64frombits(binary.LittleEndian.Uint64(buf[1:9]))
	return pingID, remoteTime, nil
}

// AckEntry is one (message-type, sequence-number) pair acknowledged by
// a Library Ack message.
type AckEntry struct {
	Type  MessageType
	SeqNr uint16
}

// EncodeAck writes a run of 3-byte (type, seqNr) entries.
func EncodeAck(entries []AckEntry) []byte {
	buf := make([]byte, 0, len(entries)*AckEntrySize)
	for _, e := range entries {
		buf = append(buf, byte(e.Type))
		seq := make([]byte, 2)
		binary.LittleEndian.PutUint16(seq, e.SeqNr)
		buf = append(buf, seq...)
	}
	return buf
}

// DecodeAck reads as many 3-byte entries as fit in buf.
func DecodeAck(buf []byte) []AckEntry {
	n := len(buf) / AckEntrySize
	entries := make([]AckEntry, 0, n)
	for i := 0; i < n; i++ {
		off := i * AckEntrySize
		entries = append(entries, AckEntry{
			Type:  MessageType(buf[off]),
			SeqNr: binary.LittleEndian.Uint16(buf[off+1 : off+3]),
		})
	}
	return entries
}

// EncodeDisconnect writes a length-prefixed UTF-8 reason string: a
// 2-byte little-endian length followed by the UTF-8 bytes.
func EncodeDisconnect(reason string) []byte {
	b := []byte(reason)
	buf := make([]byte, 2, 2+len(b))
	binary.LittleEndian.PutUint16(buf, uint16(len(b)))
	return append(buf, b...)
}

// DecodeDisconnect reads a length-prefixed UTF-8 reason string.
func DecodeDisconnect(buf []byte) (reason string, err error) {
	if len(buf) < 2 {
		return "", fmt.Errorf("protocol: short disconnect payload")
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", fmt.Errorf("protocol: truncated disconnect payload (want %d, have %d)", n, len(buf)-2)
	}
	return string(buf[2 : 2+n]), nil
}
