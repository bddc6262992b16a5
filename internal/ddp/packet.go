// Package ddp pushes RGB frames to an LED controller using the Distributed
// Display Protocol (DDP v1) over UDP.
package ddp

import (
	"encoding/binary"
	"errors"
)

const (
	HeaderSize = 10

	// DefaultPort is the DDP listener port on FPP and WLED controllers.
	DefaultPort = 4048
	// MaxPayload keeps a packet inside a 1500 byte Ethernet MTU.
	MaxPayload = 1440

	flagVersion1 = 0x40
	flagPush     = 0x01

	dataTypeRGB8 = 0x0B
	destDisplay  = 0x01

	maxSeq = 15
)

var ErrPayloadSize = errors.New("ddp: payload size must be a positive multiple of 3")

// Packetizer splits frames into DDP packets. It reuses one packet buffer, so
// each packet passed to emit is only valid until emit returns.
type Packetizer struct {
	payload int
	seq     byte
	buf     []byte
}

func NewPacketizer(maxPayload int) (*Packetizer, error) {
	if maxPayload <= 0 || maxPayload > MaxPayload || maxPayload%3 != 0 {
		return nil, ErrPayloadSize
	}
	return &Packetizer{
		payload: maxPayload,
		buf:     make([]byte, HeaderSize+maxPayload),
	}, nil
}

// nextSeq cycles 1..15; 0 means "sequence not used" to receivers.
func (p *Packetizer) nextSeq() byte {
	p.seq++
	if p.seq > maxSeq {
		p.seq = 1
	}
	return p.seq
}

// Split emits one packet per payload chunk of frame. All packets of a frame
// share a sequence number and only the last carries the PUSH flag. It stops
// at the first emit error and returns the number of packets emitted.
func (p *Packetizer) Split(frame []byte, emit func(pkt []byte) error) (int, error) {
	if len(frame) == 0 {
		return 0, nil
	}
	seq := p.nextSeq()
	n := 0
	for off := 0; off < len(frame); off += p.payload {
		end := off + p.payload
		if end > len(frame) {
			end = len(frame)
		}
		chunk := frame[off:end]

		flags := byte(flagVersion1)
		if end == len(frame) {
			flags |= flagPush
		}
		writeHeader(p.buf, flags, seq, uint32(off), uint16(len(chunk)))
		copy(p.buf[HeaderSize:], chunk)

		if err := emit(p.buf[:HeaderSize+len(chunk)]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func writeHeader(b []byte, flags, seq byte, offset uint32, length uint16) {
	b[0] = flags
	b[1] = seq & 0x0F
	b[2] = dataTypeRGB8
	b[3] = destDisplay
	binary.BigEndian.PutUint32(b[4:8], offset)
	binary.BigEndian.PutUint16(b[8:10], length)
}

// Header is a decoded DDP packet header.
type Header struct {
	Flags    byte
	Seq      byte
	DataType byte
	Dest     byte
	Offset   uint32
	Length   uint16
}

func (h Header) Push() bool { return h.Flags&flagPush != 0 }

// ParseHeader decodes the fixed 10 byte header of pkt.
func ParseHeader(pkt []byte) (Header, error) {
	if len(pkt) < HeaderSize {
		return Header{}, errors.New("ddp: short packet")
	}
	return Header{
		Flags:    pkt[0],
		Seq:      pkt[1] & 0x0F,
		DataType: pkt[2],
		Dest:     pkt[3],
		Offset:   binary.BigEndian.Uint32(pkt[4:8]),
		Length:   binary.BigEndian.Uint16(pkt[8:10]),
	}, nil
}
