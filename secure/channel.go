// channel.go - per-connection Secure Channel state machine (spec §4.C),
// grounded on original_source/foundation/details/network_impl.h's
// SecureConnection.
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

// Package secure implements the per-connection crypto state machine:
// RSA-wrapped AES key exchange, then in-place AES block encryption of
// payloads (spec §4.C).
package secure

import (
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/wherewindblow/spacelessd/wire"
)

type state int

const (
	stateStarting state = iota
	stateStarted
)

// Channel is a single connection's secure-channel state. A nil *Channel
// (or one never created) means the connection is plain: callers should
// not allocate a Channel for connections where security is closed.
type Channel struct {
	mu      sync.Mutex
	state   state
	private *rsa.PrivateKey
	aesKey  []byte
	pending []*wire.Buffer
}

// New creates a Channel in the "starting" state.
func New() *Channel {
	return &Channel{state: stateStarting}
}

// IsStarted reports whether the AES key has been installed.
func (c *Channel) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateStarted
}

// BeginServer generates an RSA key pair, retains the private key, and
// returns the DER-encoded public key to embed as the REQ_START_CRYPTO
// body (spec §4.C, passive/server side).
func (c *Channel) BeginServer() ([]byte, error) {
	priv, err := generateRSAKeyPair()
	if err != nil {
		return nil, err
	}
	der, err := marshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.private = priv
	c.mu.Unlock()

	return der, nil
}

// BeginClient handles an inbound REQ_START_CRYPTO: it generates a fresh
// AES-256 key, RSA-OAEP encrypts it with the server's public key for the
// RSP_START_CRYPTO body, and installs the key immediately (the client
// already knows it, so it transitions to started without waiting for any
// confirmation from the peer).
func (c *Channel) BeginClient(serverPubDER []byte) (cipherAESKey []byte, err error) {
	pub, err := parsePublicKey(serverPubDER)
	if err != nil {
		return nil, err
	}
	key, err := generateAESKey()
	if err != nil {
		return nil, err
	}
	ct, err := rsaEncrypt(pub, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.aesKey = key
	c.state = stateStarted
	c.mu.Unlock()

	return ct, nil
}

// CompleteServer handles an inbound RSP_START_CRYPTO on the server side:
// decrypt the AES key with the retained private key, install it, discard
// the private key, and transition to started.
func (c *Channel) CompleteServer(cipherAESKey []byte) error {
	c.mu.Lock()
	priv := c.private
	c.mu.Unlock()

	if priv == nil {
		return fmt.Errorf("%w: RSP_START_CRYPTO with no pending server handshake", wire.ErrUnexpectedSecurityNotification)
	}

	key, err := rsaDecrypt(priv, cipherAESKey)
	if err != nil {
		return err
	}
	if len(key) != AESKeyBytes {
		return fmt.Errorf("%w: decrypted key length %d, want %d", wire.ErrDecrypt, len(key), AESKeyBytes)
	}

	c.mu.Lock()
	c.aesKey = key
	c.private = nil
	c.state = stateStarted
	c.mu.Unlock()
	return nil
}

// Drain encrypts and returns every package queued by Send while the
// channel was still starting, now ready for transmission (the caller
// should subsequently hand each to the connection's write queue). If the
// channel has not started yet, the queued packages are still removed
// from the pending list and returned, unencrypted.
func (c *Channel) Drain() ([]*wire.Buffer, error) {
	c.mu.Lock()
	drained := c.pending
	c.pending = nil
	key := c.aesKey
	started := c.state == stateStarted
	c.mu.Unlock()

	if !started {
		return drained, nil
	}
	for _, buf := range drained {
		if err := aesBlockCryptInPlace(key, buf.CipherCapacity(), true); err != nil {
			return nil, err
		}
	}
	return drained, nil
}

// Send either encrypts buf in place and returns it ready to write
// (ready=true), or — if the handshake has not completed — queues it on
// the channel's own pending list and returns ready=false.
func (c *Channel) Send(buf *wire.Buffer) (ready bool, err error) {
	c.mu.Lock()
	if c.state != stateStarted {
		c.pending = append(c.pending, buf)
		c.mu.Unlock()
		return false, nil
	}
	key := c.aesKey
	c.mu.Unlock()

	if err := aesBlockCryptInPlace(key, buf.CipherCapacity(), true); err != nil {
		return false, err
	}
	return true, nil
}

// Decrypt decrypts wireBody (wire.CipherLen(contentLen) bytes) into a
// freshly allocated plaintext Buffer carrying the given header fields.
func (c *Channel) Decrypt(header wire.Header, wireBody []byte) (*wire.Buffer, error) {
	c.mu.Lock()
	key := c.aesKey
	started := c.state == stateStarted
	c.mu.Unlock()

	if !started {
		return nil, fmt.Errorf("%w: decrypt before handshake completed", wire.ErrDecrypt)
	}

	plainCap := make([]byte, len(wireBody))
	copy(plainCap, wireBody)
	if err := aesBlockCryptInPlace(key, plainCap, false); err != nil {
		return nil, err
	}

	out := make([]byte, wire.HeaderLen+int(header.ContentLength))
	wire.PutHeader(out, header)
	copy(out[wire.HeaderLen:], plainCap[:header.ContentLength])
	return wire.WrapReceived(out), nil
}
