// relay.go - a two-hop multi-phase transaction exercising the S3/S4/S5
// scenarios: a client's RelayRequest is forwarded as a FetchRequest to
// a registered peer service, the original connection is resumed once
// the peer's FetchResponse arrives (or a RspError is sent to it if the
// peer times out), grounded on the same worker.cpp trigger-bind pattern
// as txn.Registry itself.
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

package example

import (
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wherewindblow/spacelessd/timer"
	"github.com/wherewindblow/spacelessd/txn"
	"github.com/wherewindblow/spacelessd/wire"
)

const (
	CmdRelayRequest  int32 = wire.UserCommandBase + 10
	CmdRelayResponse int32 = wire.UserCommandBase + 11
	CmdFetchRequest  int32 = wire.UserCommandBase + 12
	CmdFetchResponse int32 = wire.UserCommandBase + 13
)

// RelayRequest asks the receiving node to fetch Key from its configured
// peer service and return the value to the caller.
type RelayRequest struct {
	Key string `cbor:"key"`
}

func (m *RelayRequest) Marshal() ([]byte, error)    { return cbor.Marshal(m) }
func (m *RelayRequest) Unmarshal(data []byte) error { return cbor.Unmarshal(data, m) }

// RelayResponse carries the value fetched from the peer, or is never
// sent at all if the relay timed out (a RspError goes out instead).
type RelayResponse struct {
	Value string `cbor:"value"`
}

func (m *RelayResponse) Marshal() ([]byte, error)    { return cbor.Marshal(m) }
func (m *RelayResponse) Unmarshal(data []byte) error { return cbor.Unmarshal(data, m) }

// FetchRequest is the second-hop request sent to the peer service.
type FetchRequest struct {
	Key string `cbor:"key"`
}

func (m *FetchRequest) Marshal() ([]byte, error)    { return cbor.Marshal(m) }
func (m *FetchRequest) Unmarshal(data []byte) error { return cbor.Unmarshal(data, m) }

// FetchResponse is the peer's reply to a FetchRequest.
type FetchResponse struct {
	Key   string `cbor:"key"`
	Value string `cbor:"value"`
}

func (m *FetchResponse) Marshal() ([]byte, error)    { return cbor.Marshal(m) }
func (m *FetchResponse) Unmarshal(data []byte) error { return cbor.Unmarshal(data, m) }

// relayTimeout bounds how long a RelayRequest waits on its peer before
// the registry reports a timeout to the original caller (scenario S4).
const relayTimeout = 2 * time.Second

// RegisterRelay wires a two-hop relay: the side it's registered on acts
// as both the FetchRequest responder (in case it is itself the peer
// serving another node's relay) and the relaying node, forwarding
// RelayRequest to peerServiceID and resuming once the reply arrives or
// the wheel's timeout timer fires.
func RegisterRelay(schema *wire.Registry, registry *txn.Registry, wheel *timer.Wheel, peerServiceID int32) {
	schema.Register(CmdRelayRequest, "relay_request", &RelayRequest{})
	schema.Register(CmdRelayResponse, "relay_response", &RelayResponse{})
	schema.Register(CmdFetchRequest, "fetch_request", &FetchRequest{})
	schema.Register(CmdFetchResponse, "fetch_response", &FetchResponse{})

	err := registry.RegisterOneShot(CmdFetchRequest, func(ctx *txn.Context) error {
		req := &FetchRequest{}
		if err := req.Unmarshal(ctx.Body); err != nil {
			return err
		}
		resp := &FetchResponse{Key: req.Key, Value: "value-for-" + req.Key}
		buf, err := wire.Encode(resp, CmdFetchResponse, 0, ctx.Header.SelfID)
		if err != nil {
			return err
		}
		return ctx.Sender.Enqueue(ctx.ConnID, 0, buf)
	})
	if err != nil {
		panic(err)
	}

	err = registry.RegisterOneShot(CmdRelayRequest, func(ctx *txn.Context) error {
		req := &RelayRequest{}
		if err := req.Unmarshal(ctx.Body); err != nil {
			return err
		}

		originConnID := ctx.ConnID
		originTriggerID := ctx.Header.SelfID
		hopTrigger := registry.NextTriggerID()

		fetchBuf, err := wire.Encode(&FetchRequest{Key: req.Key}, CmdFetchRequest, hopTrigger, 0)
		if err != nil {
			return err
		}

		waitErr := registry.WaitNextPhase(hopTrigger, CmdFetchResponse,
			txn.WaitTarget{ServiceID: peerServiceID}, txn.WaitTarget{ConnID: originConnID}, originTriggerID,
			func(phaseCtx *txn.Context) error {
				resp := &FetchResponse{}
				if err := resp.Unmarshal(phaseCtx.Body); err != nil {
					return err
				}
				relayResp := &RelayResponse{Value: resp.Value}
				respBuf, err := wire.Encode(relayResp, CmdRelayResponse, 0, originTriggerID)
				if err != nil {
					return err
				}
				return phaseCtx.Sender.Enqueue(originConnID, 0, respBuf)
			})
		if waitErr != nil {
			return waitErr
		}

		timerName := timerNameForTrigger(hopTrigger)
		wheel.Register(timerName, relayTimeout, func() {
			registry.Timeout(hopTrigger, ctx.Sender)
		}, timer.Once, relayTimeout)

		return ctx.Sender.Enqueue(0, peerServiceID, fetchBuf)
	})
	if err != nil {
		panic(err)
	}
}

func timerNameForTrigger(trigger int32) string {
	return "relay.timeout." + strconv.Itoa(int(trigger))
}
