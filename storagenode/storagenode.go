// storagenode.go - a bbolt-backed handle->blob store demonstrating the
// storage-node persistence boundary: the storage-node's own filesystem
// layout, replication, and chunking are out of scope, but a real
// storage node sits behind exactly this interface, durably persisting
// whatever bytes the framework hands it under an opaque handle,
// grounded on mixmasala-server/userdb/boltuserdb's bolt.Open /
// CreateBucketIfNotExists / Update-closure pattern.
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

// Package storagenode is a minimal reference stub for the out-of-scope
// storage-node business layer (spec §1 Non-goals): durable handle->blob
// persistence on top of go.etcd.io/bbolt, just enough to exercise the
// framework's transport/dispatch boundary from cmd/storagenoded.
package storagenode

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const (
	blobBucket     = "blobs"
	metadataBucket = "metadata"
	versionKey     = "version"
	currentVersion = 0
)

// Store persists opaque blobs keyed by a 64-bit handle in a single
// bbolt file.
type Store struct {
	db *bolt.DB
}

// Open creates or loads the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storagenode: open %q: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(blobBucket)); err != nil {
			return err
		}

		if v := meta.Get([]byte(versionKey)); v != nil {
			if len(v) != 1 || v[0] != currentVersion {
				return fmt.Errorf("storagenode: incompatible database version %d", v[0])
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{currentVersion})
	})
}

// Put stores data under handle, overwriting any existing blob.
func (s *Store) Put(handle int64, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(blobBucket))
		return bkt.Put(encodeHandle(handle), data)
	})
}

// Get returns the blob stored under handle, or ok=false if none exists.
// The returned slice is a copy, valid after the transaction closes.
func (s *Store) Get(handle int64) (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(blobBucket))
		raw := bkt.Get(encodeHandle(handle))
		if raw == nil {
			return nil
		}
		ok = true
		data = append([]byte(nil), raw...)
		return nil
	})
	return data, ok, err
}

// Delete removes the blob stored under handle, if any.
func (s *Store) Delete(handle int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(blobBucket))
		return bkt.Delete(encodeHandle(handle))
	})
}

// Close syncs and closes the underlying bbolt file.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		return err
	}
	return s.db.Close()
}

func encodeHandle(handle int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(handle))
	return buf[:]
}
