package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic     uint32 = 0x4C424E44 // "LBND"
	Version   uint16 = 1
	HeaderLen        = 20

	// MaxPayload bounds a single frame to 64 MiB of cells.
	MaxPayload = 64 << 20
)

var (
	ErrShortHeader     = errors.New("codec: short frame header")
	ErrBadMagic        = errors.New("codec: bad frame magic")
	ErrBadVersion      = errors.New("codec: unsupported frame version")
	ErrPayloadTooLarge = errors.New("codec: payload too large")
)

// Frame is one point-to-point message between workers.
type Frame struct {
	Tag     uint16
	Source  uint32
	Seq     uint32 // position in the (Source, Tag) channel, from 0
	Payload []byte
}

// MarshalFrame encodes the header followed by the payload.
//
//	magic u32 | version u16 | tag u16 | source u32 | seq u32 | length u32 | payload
func MarshalFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	out := make([]byte, HeaderLen+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], Magic)
	binary.BigEndian.PutUint16(out[4:6], Version)
	binary.BigEndian.PutUint16(out[6:8], f.Tag)
	binary.BigEndian.PutUint32(out[8:12], f.Source)
	binary.BigEndian.PutUint32(out[12:16], f.Seq)
	binary.BigEndian.PutUint32(out[16:20], uint32(len(f.Payload)))
	copy(out[HeaderLen:], f.Payload)
	return out, nil
}

// UnmarshalFrame decodes a frame produced by MarshalFrame. The payload is
// copied out of data.
func UnmarshalFrame(data []byte) (Frame, error) {
	if len(data) < HeaderLen {
		return Frame{}, ErrShortHeader
	}
	if binary.BigEndian.Uint32(data[0:4]) != Magic {
		return Frame{}, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	n := binary.BigEndian.Uint32(data[16:20])
	if n > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	if int(n) != len(data)-HeaderLen {
		return Frame{}, fmt.Errorf("%w: header says %d, frame carries %d", ErrLength, n, len(data)-HeaderLen)
	}
	return Frame{
		Tag:     binary.BigEndian.Uint16(data[6:8]),
		Source:  binary.BigEndian.Uint32(data[8:12]),
		Seq:     binary.BigEndian.Uint32(data[12:16]),
		Payload: append([]byte(nil), data[HeaderLen:]...),
	}, nil
}
