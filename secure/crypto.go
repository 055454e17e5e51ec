// crypto.go - concrete asymmetric/symmetric primitives backing the
// secure channel (spec §6 "Crypto"). The spec treats these as an opaque
// library surface; this file is the thinnest possible wrapper around
// stdlib crypto/rsa, crypto/aes and crypto/cipher (justified in
// DESIGN.md: no pack example ships a drop-in RSA-OAEP/AES-ECB library,
// and these are exactly the primitives crypto/rsa and crypto/aes exist
// to provide).
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

package secure

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/wherewindblow/spacelessd/wire"
)

// RSAModulusBits is the default RSA modulus size (spec §6: "implementation-
// defined modulus, default 1024-bit").
const RSAModulusBits = 1024

// AESKeyBytes is the AES-256 key size.
const AESKeyBytes = 32

func generateRSAKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSAModulusBits)
}

func marshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	raw, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("secure: parse public key: %w", err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("secure: public key is not RSA")
	}
	return pub, nil
}

func generateAESKey() ([]byte, error) {
	key := make([]byte, AESKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secure: generate AES key: %w", err)
	}
	return key, nil
}

func rsaEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("secure: rsa encrypt: %w", err)
	}
	return ct, nil
}

func rsaDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa decrypt: %v", wire.ErrDecrypt, err)
	}
	return pt, nil
}

// aesBlockCryptInPlace runs AES-256 over buf in independent BlockSize
// chunks (no chaining between blocks): per spec §6 this is the in-source
// design, flagged in §9 as a hardening target for a future CBC/GCM mode,
// preserved here exactly so the on-wire contract matches spec.
func aesBlockCryptInPlace(key []byte, buf []byte, encrypt bool) error {
	if len(buf)%wire.BlockSize != 0 {
		return fmt.Errorf("secure: buffer length %d is not a multiple of block size %d", len(buf), wire.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("secure: new AES cipher: %w", err)
	}
	for off := 0; off < len(buf); off += wire.BlockSize {
		chunk := buf[off : off+wire.BlockSize]
		if encrypt {
			block.Encrypt(chunk, chunk)
		} else {
			block.Decrypt(chunk, chunk)
		}
	}
	return nil
}
