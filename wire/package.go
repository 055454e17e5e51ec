// package.go - Buffer: an allocated package's header + body storage
// (spec §3, §4.A), grounded on original_source/foundation/package.h's
// PackageBuffer/Package split.
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

package wire

import "fmt"

// Buffer is a contiguous header+body allocation. A Buffer made by
// Allocate (or Encode) reserves room for the block-padded (encrypted)
// form of its content, regardless of whether the owning channel
// currently encrypts, so that encryption can happen in place (spec §3
// invariants). A Buffer made by WrapReceived holds exactly the bytes it
// was given, header plus content_length, with no padding reserved.
type Buffer struct {
	data []byte
}

// Allocate reserves a Buffer sized to carry contentLen plaintext bytes,
// with header.Version set and header.ContentLength set to contentLen.
func Allocate(contentLen int) (*Buffer, error) {
	if err := ValidateContentLength(contentLen); err != nil {
		return nil, err
	}
	capLen := CipherLen(contentLen)
	data := make([]byte, HeaderLen+capLen)
	PutHeader(data, Header{Version: Version, ContentLength: int32(contentLen)})
	return &Buffer{data: data}, nil
}

// WrapReceived builds a Buffer from bytes already read off the wire
// (header + plaintext body), used by the secure channel after decrypt
// and by plain (unencrypted) connections directly off the socket.
func WrapReceived(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Header returns the parsed header.
func (b *Buffer) Header() Header {
	return ParseHeader(b.data)
}

// SetHeaderFields rewrites the command/self_id/trigger_id fields,
// leaving version and content_length untouched.
func (b *Buffer) SetHeaderFields(command, selfID, triggerID int32) {
	h := b.Header()
	h.Command = command
	h.SelfID = selfID
	h.TriggerID = triggerID
	PutHeader(b.data, h)
}

// Data returns the full underlying buffer (header + reserved body
// capacity).
func (b *Buffer) Data() []byte {
	return b.data
}

// PlainBody returns the slice holding exactly content_length plaintext
// bytes.
func (b *Buffer) PlainBody() []byte {
	n := int(b.Header().ContentLength)
	return b.data[HeaderLen : HeaderLen+n]
}

// CipherCapacity returns the full block-padded body region available
// for in-place encryption (content plus zero-padding to a whole block).
func (b *Buffer) CipherCapacity() []byte {
	n := CipherLen(int(b.Header().ContentLength))
	return b.data[HeaderLen : HeaderLen+n]
}

// WireBody returns the slice that should actually travel on the wire,
// depending on whether the owning channel is encrypted.
func (b *Buffer) WireBody(encrypted bool) []byte {
	if encrypted {
		return b.CipherCapacity()
	}
	return b.PlainBody()
}

// WireLength returns HeaderLen plus the on-wire body length for the
// given encryption state (spec §4.A wire_length).
func (b *Buffer) WireLength(encrypted bool) int {
	return HeaderLen + WireBodyLen(int(b.Header().ContentLength), encrypted)
}

// TriggerSource returns the (command, self_id) pair this package would
// be echoed against by a reply.
func (b *Buffer) TriggerSource() TriggerSource {
	h := b.Header()
	return TriggerSource{Command: h.Command, SelfID: h.SelfID}
}

// Encode serializes msg into a freshly allocated Buffer and fills in the
// header fields supplied by the caller.
func Encode(msg Message, command, selfID, triggerID int32) (*Buffer, error) {
	body, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	buf, err := Allocate(len(body))
	if err != nil {
		return nil, err
	}
	buf.SetHeaderFields(command, selfID, triggerID)
	copy(buf.PlainBody(), body)
	return buf, nil
}

// Decode looks up command's registered type in reg and unmarshals the
// package's plaintext body into a fresh instance.
func Decode(buf *Buffer, reg *Registry) (Message, error) {
	h := buf.Header()
	msg, ok := reg.New(h.Command)
	if !ok {
		return nil, fmt.Errorf("%w: command %d", ErrUnknownCommand, h.Command)
	}
	if err := msg.Unmarshal(buf.PlainBody()); err != nil {
		return nil, err
	}
	return msg, nil
}
