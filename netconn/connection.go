// connection.go - Connection: per-socket read state machine, write
// queue, and handshake orchestration (spec §4.D), grounded on
// original_source/foundation/details/network_impl.h's
// NetworkConnectionImpl/SecureConnection and, for the goroutine/channel
// idiom, client/cborplugin/incoming_conn.go's incomingConn.worker.
//
// The original is a single-threaded, non-blocking reactor: one thread
// polls every socket and mutates connection state directly. Go has no
// idiomatic non-blocking socket reactor, so each Connection instead
// runs a dedicated read goroutine (blocking net.Conn.Read, unblocked by
// closing the socket) and a dedicated write goroutine draining a
// channel in submission order. The two goroutines, plus whichever
// caller resolves packages to send, only ever touch a Connection's
// shared fields under its mutex, preserving the "single mutator"
// invariant the original gets for free from its single reactor thread.
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

// Package netconn implements the framed-package connection: the
// READ_HEADER/READ_CONTENT read cycle, the security handshake
// (NTF_SECURITY_SETTING / REQ_START_CRYPTO / RSP_START_CRYPTO), and the
// per-connection write queue (spec §4.C, §4.D).
package netconn

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/wherewindblow/spacelessd/internal/task"
	"github.com/wherewindblow/spacelessd/queue"
	"github.com/wherewindblow/spacelessd/secure"
	"github.com/wherewindblow/spacelessd/store"
	"github.com/wherewindblow/spacelessd/wire"
)

// OpenType distinguishes the two ways a connection comes to exist.
type OpenType int

const (
	PassiveOpen OpenType = iota
	ActiveOpen
)

// Status is a Connection's lifecycle state (spec §4.D).
type Status int32

const (
	StatusOpening Status = iota
	StatusOpen
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpening:
		return "opening"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Owner is the callback surface a Connection needs from whatever owns
// its connection table (the reactor). All methods may be called from
// either the read or write goroutine.
type Owner interface {
	// OnClosed is invoked exactly once, after the connection's sockets
	// and goroutines have fully wound down.
	OnClosed(id int32)
}

const writeQueueCapacity = 256

// Connection wraps one net.Conn with the framed-package read cycle, the
// optional secure channel handshake, and an ordered write queue.
type Connection struct {
	task.Worker

	id       int32
	conn     net.Conn
	openType OpenType
	security bool // this side's configured security policy (spec §4.D)
	store    *store.Store
	inbound  *queue.Queue
	reg      *wire.Registry
	owner    Owner
	log      *logging.Logger

	mu             sync.Mutex
	status         Status
	securityKnown  bool // for ActiveOpen: NTF_SECURITY_SETTING has been observed
	channel        *secure.Channel
	prePending     []*wire.Buffer // queued before securityKnown
	writeCh        chan *wire.Buffer
	closeOnce      sync.Once
}

// New wraps conn as a framed-package Connection and starts its
// goroutines. security is this side's policy: for a PassiveOpen
// connection it is the listener's configured security; for an
// ActiveOpen connection it is ignored (the remote side's
// NTF_SECURITY_SETTING decides).
func New(id int32, conn net.Conn, openType OpenType, security bool, st *store.Store, inbound *queue.Queue, reg *wire.Registry, owner Owner, log *logging.Logger) *Connection {
	c := &Connection{
		id:       id,
		conn:     conn,
		openType: openType,
		security: security,
		store:    st,
		inbound:  inbound,
		reg:      reg,
		owner:    owner,
		log:      log,
		writeCh:  make(chan *wire.Buffer, writeQueueCapacity),
	}

	if openType == PassiveOpen {
		c.status = StatusOpening
		c.securityKnown = true
		c.startPassive()
	} else {
		c.status = StatusOpening
		c.securityKnown = false
	}

	c.Go(c.readLoop)
	c.Go(c.writeLoop)
	return c
}

// ID returns the connection id used to key the reactor's connection
// table and tag inbound queue entries.
func (c *Connection) ID() int32 { return c.id }

// Registry returns the message schema registry this connection decodes
// inbound packages against.
func (c *Connection) Registry() *wire.Registry { return c.reg }

// Status returns the current lifecycle status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsOpen reports whether the connection is usable for sending
// (implements svc.ConnResolver's per-connection check).
func (c *Connection) IsOpen() bool {
	s := c.Status()
	return s == StatusOpening || s == StatusOpen
}

func (c *Connection) startPassive() {
	setting := wire.SecurityClose
	if c.security {
		setting = wire.SecurityOpen
	}
	c.sendControl(wire.CmdNtfSecuritySetting, []byte{byte(setting)})

	if !c.security {
		c.mu.Lock()
		c.status = StatusOpen
		c.mu.Unlock()
		return
	}

	ch := secure.New()
	pub, err := ch.BeginServer()
	if err != nil {
		c.log.Errorf("conn %d: begin server handshake: %v", c.id, err)
		c.Close()
		return
	}
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	c.sendControl(wire.CmdReqStartCrypto, pub)
}

// sendControl writes a handshake control package directly, bypassing
// both the connection's pre-security pending list and the secure
// channel: these four commands always travel in the clear, the
// handshake itself cannot be protected by the key it is establishing.
func (c *Connection) sendControl(command int32, body []byte) {
	buf, err := wire.Allocate(len(body))
	if err != nil {
		c.log.Errorf("conn %d: allocate control package: %v", c.id, err)
		return
	}
	buf.SetHeaderFields(command, 0, 0)
	copy(buf.PlainBody(), body)
	c.enqueueWrite(buf)
}

// Send submits buf for transmission, encrypting it in place once the
// channel (if any) is ready, or queuing it until the handshake settles
// (spec §4.D wait-for-channel behavior).
func (c *Connection) Send(buf *wire.Buffer) error {
	c.mu.Lock()
	switch c.status {
	case StatusClosing, StatusClosed:
		c.mu.Unlock()
		return fmt.Errorf("%w: connection %d is %s", wire.ErrConnectionNotExist, c.id, c.status)
	}

	if !c.securityKnown {
		c.prePending = append(c.prePending, buf)
		c.mu.Unlock()
		return nil
	}
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		c.enqueueWrite(buf)
		return nil
	}

	ready, err := channel.Send(buf)
	if err != nil {
		return err
	}
	if ready {
		c.enqueueWrite(buf)
	}
	return nil
}

func (c *Connection) enqueueWrite(buf *wire.Buffer) {
	select {
	case c.writeCh <- buf:
	case <-c.HaltCh():
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case buf, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.writeOne(buf); err != nil {
				c.log.Warningf("conn %d: write error: %v", c.id, err)
				c.Close()
				return
			}
		case <-c.HaltCh():
			return
		}
	}
}

func (c *Connection) writeOne(buf *wire.Buffer) error {
	encrypted := c.channelStarted()
	n := buf.WireLength(encrypted)
	data := buf.Data()[:n]
	_, err := c.conn.Write(data)
	return err
}

func (c *Connection) channelStarted() bool {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	return ch != nil && ch.IsStarted()
}

func (c *Connection) readLoop() {
	defer c.Close()
	for {
		header, err := c.readHeader()
		if err != nil {
			if err != io.EOF {
				c.log.Debugf("conn %d: read header: %v", c.id, err)
			}
			return
		}

		body, err := c.readBody(header)
		if err != nil {
			c.log.Debugf("conn %d: read body: %v", c.id, err)
			return
		}

		if c.handleInboundPackage(header, body) == errStopReading {
			return
		}
	}
}

type readSignal int

const errStopReading readSignal = 1

// readHeader reads HeaderLen bytes, validating the version field as
// soon as it has arrived rather than waiting for the whole header, the
// same partial-progress check the original performs on every recv
// (spec §4.D invariant: version checked before the rest of the header
// is trusted).
func (c *Connection) readHeader() (wire.Header, error) {
	buf := make([]byte, wire.HeaderLen)
	read := 0
	versionChecked := false
	for read < wire.HeaderLen {
		n, err := c.conn.Read(buf[read:])
		read += n
		if !versionChecked && read >= 2 {
			versionChecked = true
			v := binary.LittleEndian.Uint16(buf[0:2])
			if v != wire.Version {
				c.sendControl(wire.CmdNtfInvalidVersion, nil)
				return wire.Header{}, fmt.Errorf("%w: got %d want %d", wire.ErrVersionMismatch, v, wire.Version)
			}
		}
		if err != nil {
			if read == 0 && err == io.EOF {
				return wire.Header{}, io.EOF
			}
			return wire.Header{}, err
		}
	}
	return wire.ParseHeader(buf), nil
}

func (c *Connection) readBody(header wire.Header) ([]byte, error) {
	encrypted := c.channelStarted()
	n := wire.WireBodyLen(int(header.ContentLength), encrypted)
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Connection) handleInboundPackage(header wire.Header, wireBody []byte) readSignal {
	switch header.Command {
	case wire.CmdNtfSecuritySetting:
		c.onSecuritySetting(wireBody)
		return 0
	case wire.CmdReqStartCrypto:
		c.onReqStartCrypto(wireBody)
		return 0
	case wire.CmdRspStartCrypto:
		c.onRspStartCrypto(wireBody)
		return 0
	case wire.CmdNtfInvalidVersion:
		c.log.Warningf("conn %d: peer rejected our protocol version", c.id)
		return errStopReading
	}

	buf, err := c.decodeApplicationPackage(header, wireBody)
	if err != nil {
		c.log.Warningf("conn %d: %v", c.id, err)
		return errStopReading
	}

	handle, err := c.store.Put(buf)
	if err != nil {
		c.log.Errorf("conn %d: store inbound package: %v", c.id, err)
		return 0
	}
	if err := c.inbound.Push(queue.Entry{ConnID: c.id, PackageID: handle}); err != nil {
		c.log.Warningf("conn %d: inbound queue: %v", c.id, err)
		c.store.Remove(handle)
	}
	return 0
}

func (c *Connection) decodeApplicationPackage(header wire.Header, wireBody []byte) (*wire.Buffer, error) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		data := make([]byte, wire.HeaderLen+len(wireBody))
		wire.PutHeader(data, header)
		copy(data[wire.HeaderLen:], wireBody)
		return wire.WrapReceived(data), nil
	}
	return ch.Decrypt(header, wireBody)
}

func (c *Connection) onSecuritySetting(body []byte) {
	if c.openType != ActiveOpen {
		c.log.Warningf("conn %d: unexpected NTF_SECURITY_SETTING on passive-open connection", c.id)
		return
	}
	open := len(body) > 0 && wire.SecuritySetting(body[0]) == wire.SecurityOpen

	c.mu.Lock()
	if c.securityKnown {
		c.mu.Unlock()
		c.log.Warningf("conn %d: %v", c.id, wire.ErrSecurityChangeAfterOpen)
		return
	}
	c.securityKnown = true
	if open {
		c.channel = secure.New()
	} else {
		c.status = StatusOpen
	}
	pending := c.prePending
	c.prePending = nil
	c.mu.Unlock()

	for _, buf := range pending {
		if err := c.Send(buf); err != nil {
			c.log.Warningf("conn %d: resend pending package: %v", c.id, err)
		}
	}
}

func (c *Connection) onReqStartCrypto(pubDER []byte) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		c.log.Warningf("conn %d: REQ_START_CRYPTO with no channel", c.id)
		return
	}

	cipherKey, err := ch.BeginClient(pubDER)
	if err != nil {
		c.log.Errorf("conn %d: begin client handshake: %v", c.id, err)
		c.Close()
		return
	}
	c.sendControl(wire.CmdRspStartCrypto, cipherKey)

	c.mu.Lock()
	c.status = StatusOpen
	c.mu.Unlock()
	c.drainChannel(ch)
}

func (c *Connection) onRspStartCrypto(cipherKey []byte) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		c.log.Warningf("conn %d: RSP_START_CRYPTO with no channel", c.id)
		return
	}

	if err := ch.CompleteServer(cipherKey); err != nil {
		c.log.Errorf("conn %d: complete server handshake: %v", c.id, err)
		c.Close()
		return
	}

	c.mu.Lock()
	c.status = StatusOpen
	c.mu.Unlock()
	c.drainChannel(ch)
}

func (c *Connection) drainChannel(ch *secure.Channel) {
	drained, err := ch.Drain()
	if err != nil {
		c.log.Errorf("conn %d: encrypt drained packages: %v", c.id, err)
		c.Close()
		return
	}
	for _, buf := range drained {
		c.enqueueWrite(buf)
	}
}

// Close tears the connection down exactly once: stops accepting new
// writes and closes the socket, unblocking the read goroutine. Close
// may itself be called from the read or write goroutine (a socket
// error triggers its own teardown), so the wait for both goroutines to
// exit happens on a separate, untracked goroutine rather than inline.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = StatusClosing
		c.mu.Unlock()

		c.conn.Close()
		go c.finishClose()
	})
}

func (c *Connection) finishClose() {
	c.Halt()

	c.mu.Lock()
	c.status = StatusClosed
	c.mu.Unlock()

	if c.owner != nil {
		c.owner.OnClosed(c.id)
	}
}
