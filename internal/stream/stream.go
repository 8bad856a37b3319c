// Package stream provides small byte-extraction helpers shared by the
// packages that decode wire formats (ddp headers, AARP, RTMP, ZIP and NBP
// packets).
package stream

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ReadBytes reads n bytes from buf and returns them. It panics if fewer than
// n bytes remain; callers are expected to have already length-checked the
// buffer (decoders check the wire length field before calling in).
func ReadBytes(n int, buf *bytes.Buffer) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		panic(err)
	}
	return b
}

// ReadByte reads a single byte off buf.
func ReadByte(buf *bytes.Buffer) byte {
	return ReadBytes(1, buf)[0]
}

// ReadUint16 reads 2 big-endian bytes off buf.
func ReadUint16(buf *bytes.Buffer) uint16 {
	return binary.BigEndian.Uint16(ReadBytes(2, buf))
}

// PutUint16 appends v to buf as 2 big-endian bytes.
func PutUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
