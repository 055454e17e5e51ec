// echo.go - a minimal one-phase transaction exercising the S1 secure
// handshake + round-trip scenario without any out-of-scope business
// logic: EchoRequest in, EchoResponse out, same connection.
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

// Package example wires a couple of small transactions against a
// daemon.Server purely to exercise the framework end to end: a
// one-phase echo and a two-hop multi-phase relay.
package example

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/wherewindblow/spacelessd/txn"
	"github.com/wherewindblow/spacelessd/wire"
)

const (
	CmdEchoRequest  int32 = wire.UserCommandBase
	CmdEchoResponse int32 = wire.UserCommandBase + 1
)

// EchoRequest carries an arbitrary string to be echoed back.
type EchoRequest struct {
	Text string `cbor:"text"`
}

func (m *EchoRequest) Marshal() ([]byte, error)    { return cbor.Marshal(m) }
func (m *EchoRequest) Unmarshal(data []byte) error { return cbor.Unmarshal(data, m) }

// EchoResponse carries the same text back, unmodified.
type EchoResponse struct {
	Text string `cbor:"text"`
}

func (m *EchoResponse) Marshal() ([]byte, error)    { return cbor.Marshal(m) }
func (m *EchoResponse) Unmarshal(data []byte) error { return cbor.Unmarshal(data, m) }

// RegisterEcho wires CmdEchoRequest into schema and registry: decode
// the request, echo its text back to the originating connection as
// CmdEchoResponse.
func RegisterEcho(schema *wire.Registry, registry *txn.Registry) {
	schema.Register(CmdEchoRequest, "echo_request", &EchoRequest{})
	schema.Register(CmdEchoResponse, "echo_response", &EchoResponse{})

	err := registry.RegisterOneShot(CmdEchoRequest, func(ctx *txn.Context) error {
		req := &EchoRequest{}
		if err := req.Unmarshal(ctx.Body); err != nil {
			return err
		}
		resp := &EchoResponse{Text: req.Text}
		buf, err := wire.Encode(resp, CmdEchoResponse, 0, ctx.Header.SelfID)
		if err != nil {
			return err
		}
		return ctx.Sender.Enqueue(ctx.ConnID, 0, buf)
	})
	if err != nil {
		panic(err)
	}
}
