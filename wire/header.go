// header.go - package header layout and wire framing math.
// Copyright (C) 2024  spacelessd authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package wire implements the framed package transport of spec §3/§4.A:
// a fixed 18-byte header followed by an opaque, optionally block-padded
// body, and the message schema layer (command <-> name <-> Go type).
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// Version is the only protocol version this build speaks.
	Version uint16 = 1

	// HeaderLen is the on-wire size of Header: version(2) + command(4) +
	// self_id(4) + trigger_id(4) + content_length(4). Go's struct layout
	// would pad a uint16 followed by int32 fields, so the header is
	// hand-marshaled rather than laid over a struct, keeping the 18-byte
	// contract spec §6 requires regardless of host alignment.
	HeaderLen = 18

	// BlockSize is the cipher block size content lengths are padded to
	// once a channel is encrypted (spec §3, §4.C).
	BlockSize = 16

	// MaxBody is the largest plaintext content_length a package may carry.
	MaxBody = 65536 - HeaderLen
)

// Header is the parsed form of a package's fixed fields.
type Header struct {
	Version       uint16
	Command       int32
	SelfID        int32
	TriggerID     int32
	ContentLength int32
}

// TriggerSource is the (command, self_id) pair a reply echoes back as
// trigger_id so the sender can correlate the response (spec glossary).
type TriggerSource struct {
	Command int32
	SelfID  int32
}

// PutHeader marshals h into the first HeaderLen bytes of buf.
func PutHeader(buf []byte, h Header) {
	_ = buf[HeaderLen-1]
	binary.LittleEndian.PutUint16(buf[0:2], h.Version)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(h.Command))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(h.SelfID))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(h.TriggerID))
	binary.LittleEndian.PutUint32(buf[14:18], uint32(h.ContentLength))
}

// ParseHeader unmarshals the first HeaderLen bytes of buf.
func ParseHeader(buf []byte) Header {
	_ = buf[HeaderLen-1]
	return Header{
		Version:       binary.LittleEndian.Uint16(buf[0:2]),
		Command:       int32(binary.LittleEndian.Uint32(buf[2:6])),
		SelfID:        int32(binary.LittleEndian.Uint32(buf[6:10])),
		TriggerID:     int32(binary.LittleEndian.Uint32(buf[10:14])),
		ContentLength: int32(binary.LittleEndian.Uint32(buf[14:18])),
	}
}

// CipherLen rounds contentLen up to a whole number of BlockSize blocks,
// the size the body occupies on the wire once a channel is encrypted.
// content_length itself always remains the plaintext length (spec §3).
func CipherLen(contentLen int) int {
	if contentLen <= 0 {
		return 0
	}
	blocks := (contentLen + BlockSize - 1) / BlockSize
	return blocks * BlockSize
}

// WireBodyLen returns the number of body bytes that travel on the wire
// for a given plaintext content length, depending on whether the channel
// is encrypted.
func WireBodyLen(contentLen int, encrypted bool) int {
	if encrypted {
		return CipherLen(contentLen)
	}
	return contentLen
}

// ValidateContentLength rejects content lengths the header cannot carry.
func ValidateContentLength(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: content_length %d is negative", ErrParse, n)
	}
	if n > MaxBody {
		return fmt.Errorf("%w: content_length %d exceeds MAX_BODY %d", ErrBufferTooLarge, n, MaxBody)
	}
	return nil
}
