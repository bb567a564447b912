// Copyright (C) 2020-2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire holds the narrow, fixed-shape wire codec used to put
// ballot, observation and servo sample payloads on and take them off the
// transport (heartbeats carry the raw 16-byte peer id and do not go
// through it). It is not a general serialization framework — just enough
// big-endian packing/unpacking for those three message shapes.
package wire

import "errors"

// ErrShortBuffer is returned when an Unpacker runs out of bytes.
var ErrShortBuffer = errors.New("wire: short buffer")

// Packer accumulates bytes for an outbound payload.
type Packer struct {
	Bytes []byte
	Err   error
}

// NewPacker returns a Packer with size bytes of pre-allocated capacity.
func NewPacker(size int) *Packer {
	return &Packer{
		Bytes: make([]byte, 0, size),
	}
}

// PackByte appends a single byte.
func (p *Packer) PackByte(b byte) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, b)
}

// PackBytes appends a fixed-width byte slice verbatim (used for PeerIds).
func (p *Packer) PackBytes(b []byte) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, b...)
}

// PackInt appends a uint32 in big-endian order.
func (p *Packer) PackInt(i uint32) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
}

// PackShort appends a uint16 in big-endian order.
func (p *Packer) PackShort(i uint16) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, byte(i>>8), byte(i))
}

// PackLong appends a uint64 in big-endian order.
func (p *Packer) PackLong(l uint64) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes,
		byte(l>>56), byte(l>>48), byte(l>>40), byte(l>>32),
		byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
}

// Unpacker consumes bytes from an inbound payload in the same order they
// were packed.
type Unpacker struct {
	Bytes  []byte
	Offset int
	Err    error
}

// NewUnpacker wraps b for sequential decoding.
func NewUnpacker(b []byte) *Unpacker {
	return &Unpacker{Bytes: b}
}

func (u *Unpacker) take(n int) []byte {
	if u.Err != nil {
		return nil
	}
	if u.Offset+n > len(u.Bytes) {
		u.Err = ErrShortBuffer
		return nil
	}
	b := u.Bytes[u.Offset : u.Offset+n]
	u.Offset += n
	return b
}

// UnpackByte consumes a single byte.
func (u *Unpacker) UnpackByte() byte {
	b := u.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// UnpackBytes consumes n raw bytes (used for PeerIds).
func (u *Unpacker) UnpackBytes(n int) []byte {
	b := u.take(n)
	out := make([]byte, n)
	copy(out, b)
	return out
}

// UnpackInt consumes a big-endian uint32.
func (u *Unpacker) UnpackInt() uint32 {
	b := u.take(4)
	if b == nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// UnpackShort consumes a big-endian uint16.
func (u *Unpacker) UnpackShort() uint16 {
	b := u.take(2)
	if b == nil {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// UnpackLong consumes a big-endian uint64.
func (u *Unpacker) UnpackLong() uint64 {
	b := u.take(8)
	if b == nil {
		return 0
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
