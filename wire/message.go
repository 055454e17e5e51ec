// message.go - opaque message schema layer, grounded on the teacher's
// cborplugin Request/Response Marshal/Unmarshal pattern
// (server/cborplugin/client.go).
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

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Message is the interface every user-defined (Req*/Rsp*) and built-in
// wire body type implements. The schema itself is treated as an opaque
// serializer surface per spec §1; this is that surface.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

func marshalCBOR(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func unmarshalCBOR(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

// schemaEntry pairs a command number with a name and a zero-value
// prototype used to allocate fresh Message instances on decode.
type schemaEntry struct {
	command int32
	name    string
	proto   reflect.Type
}

// Registry is the command<->name<->type table a generated schema layer
// would normally populate (spec §6's "schema tool"). It is populated at
// startup, read afterward, and safe for concurrent lookup.
type Registry struct {
	mu        sync.RWMutex
	byCommand map[int32]schemaEntry
	byName    map[string]schemaEntry
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		byCommand: make(map[int32]schemaEntry),
		byName:    make(map[string]schemaEntry),
	}
}

// Register associates command with name and the dynamic type of zero,
// which must be a non-nil pointer to a Message implementation. Duplicate
// registration of the same command is a fatal configuration error and
// panics (txn.Registry.RegisterOneShot instead returns
// ErrDuplicateTransaction for a duplicate command).
func (r *Registry) Register(command int32, name string, zero Message) {
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("wire: Register(%d, %q): zero must be a non-nil pointer", command, name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCommand[command]; exists {
		panic(fmt.Sprintf("wire: command %d already registered", command))
	}
	entry := schemaEntry{command: command, name: name, proto: t.Elem()}
	r.byCommand[command] = entry
	r.byName[name] = entry
}

// New allocates a fresh zero-valued Message for command.
func (r *Registry) New(command int32) (Message, bool) {
	r.mu.RLock()
	entry, ok := r.byCommand[command]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reflect.New(entry.proto).Interface().(Message), true
}

// NameOf returns the registered name for command, analogous to
// protocol::find_message_name in the original implementation.
func (r *Registry) NameOf(command int32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byCommand[command]
	return entry.name, ok
}

// CommandOf returns the registered command number for name.
func (r *Registry) CommandOf(name string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byName[name]
	return entry.command, ok
}
