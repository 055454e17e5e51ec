// commands.go - reserved built-in commands (spec §6).
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

// Built-in commands occupy a small reserved range below UserCommandBase,
// the same way the framework's (absent from this build) command-code
// generator allocates user commands starting at a configured base.
const (
	CmdNtfSecuritySetting int32 = 1
	CmdReqStartCrypto     int32 = 2
	CmdRspStartCrypto     int32 = 3
	CmdNtfInvalidVersion  int32 = 4
	CmdRspError           int32 = 5

	// UserCommandBase is the first command number available to
	// application-defined messages.
	UserCommandBase int32 = 100
)

// SecuritySetting is the 1-byte payload of NTF_SECURITY_SETTING.
type SecuritySetting byte

const (
	SecurityClose SecuritySetting = 0
	SecurityOpen  SecuritySetting = 1
)

// RspErrorBody is the body of the builtin RSP_ERROR reply sent by the
// framework-level error handler default path (spec §7).
type RspErrorBody struct {
	Result ErrorCode `cbor:"result"`
}

func (b *RspErrorBody) Marshal() ([]byte, error) { return marshalCBOR(b) }
func (b *RspErrorBody) Unmarshal(data []byte) error { return unmarshalCBOR(data, b) }
