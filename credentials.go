//----------------------------------------------------------------------
// This file is part of netprov.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// netprov is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// netprov is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package netprov

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Error messages
var (
	ErrNoCredentials = errors.New("no credentials stored")
)

// Credentials for a Wi-Fi network. External credentials are managed by the
// radio itself (e.g. obtained by WPS) and only referenced by SSID.
type Credentials struct {
	SSID       string    `cbor:"1,keyasint"`
	Passphrase string    `cbor:"2,keyasint,omitempty"`
	External   bool      `cbor:"3,keyasint,omitempty"`
	SavedAt    time.Time `cbor:"4,keyasint"`
}

// CredentialStore persists credentials across reboots.
type CredentialStore interface {
	// Provisioned returns true if credentials are stored.
	Provisioned() bool

	// Load the stored credentials (ErrNoCredentials if none).
	Load() (*Credentials, error)

	// Save credentials durably.
	Save(*Credentials) error

	// Erase all stored credentials.
	Erase() error
}

//----------------------------------------------------------------------

// MemoryStore keeps credentials in memory.
type MemoryStore struct {
	mu   sync.Mutex
	cred *Credentials
}

// NewMemoryStore with optional initial credentials (empty SSID = none).
func NewMemoryStore(ssid, passphrase string) *MemoryStore {
	s := new(MemoryStore)
	if ssid != "" {
		s.cred = &Credentials{SSID: ssid, Passphrase: passphrase}
	}
	return s
}

// Provisioned returns true if credentials are stored.
func (s *MemoryStore) Provisioned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred != nil
}

// Load stored credentials.
func (s *MemoryStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, ErrNoCredentials
	}
	c := *s.cred
	return &c, nil
}

// Save credentials.
func (s *MemoryStore) Save(cred *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cred
	s.cred = &c
	return nil
}

// Erase credentials.
func (s *MemoryStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

//----------------------------------------------------------------------

var (
	credEncMode cbor.EncMode
	credDecMode cbor.DecMode
)

func init() {
	var err error
	if credEncMode, err = (cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeUnix,
	}).EncMode(); err != nil {
		panic(fmt.Sprintf("credential encoder: %v", err))
	}
	if credDecMode, err = (cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}).DecMode(); err != nil {
		panic(fmt.Sprintf("credential decoder: %v", err))
	}
}

// FileStore keeps CBOR-encoded credentials in a file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore for the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Provisioned returns true if readable credentials are stored.
func (s *FileStore) Provisioned() bool {
	_, err := s.Load()
	return err == nil
}

// Load stored credentials.
func (s *FileStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}
	cred := new(Credentials)
	if err = credDecMode.Unmarshal(data, cred); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if cred.SSID == "" {
		return nil, ErrNoCredentials
	}
	return cred, nil
}

// Save credentials: written to a temporary file, synced and renamed so a
// power loss leaves either the old or the new credentials.
func (s *FileStore) Save(cred *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.SavedAt.IsZero() {
		cred.SavedAt = time.Now()
	}
	data, err := credEncMode.Marshal(cred)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// Erase stored credentials.
func (s *FileStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

//----------------------------------------------------------------------

// BlockDevice is an erasable flash area (e.g. the flash behind the
// firmware image of a microcontroller).
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// block record header: magic + payload length
var blockMagic = [2]byte{'N', 'P'}

const blockHeader = 4

// BlockStore keeps CBOR-encoded credentials in the first erase block of
// a block device.
type BlockStore struct {
	mu  sync.Mutex
	dev BlockDevice
}

// NewBlockStore on the given device.
func NewBlockStore(dev BlockDevice) *BlockStore {
	return &BlockStore{dev: dev}
}

// Provisioned returns true if readable credentials are stored.
func (s *BlockStore) Provisioned() bool {
	_, err := s.Load()
	return err == nil
}

// Load stored credentials.
func (s *BlockStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hdr [blockHeader]byte
	if _, err := s.dev.ReadAt(hdr[:], 0); err != nil {
		return nil, err
	}
	if hdr[0] != blockMagic[0] || hdr[1] != blockMagic[1] {
		// erased or never written
		return nil, ErrNoCredentials
	}
	size := int64(binary.BigEndian.Uint16(hdr[2:]))
	if size == 0 || size > s.dev.EraseBlockSize()-blockHeader {
		return nil, ErrNoCredentials
	}
	data := make([]byte, size)
	if _, err := s.dev.ReadAt(data, blockHeader); err != nil {
		return nil, err
	}
	cred := new(Credentials)
	if err := credDecMode.Unmarshal(data, cred); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if cred.SSID == "" {
		return nil, ErrNoCredentials
	}
	return cred, nil
}

// Save credentials (erase, then write header and record).
func (s *BlockStore) Save(cred *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.SavedAt.IsZero() {
		cred.SavedAt = time.Now()
	}
	data, err := credEncMode.Marshal(cred)
	if err != nil {
		return err
	}
	if int64(len(data)) > s.dev.EraseBlockSize()-blockHeader {
		return fmt.Errorf("credential record too large (%d bytes)", len(data))
	}
	if err = s.dev.EraseBlocks(0, 1); err != nil {
		return err
	}
	buf := make([]byte, blockHeader+len(data))
	copy(buf, blockMagic[:])
	binary.BigEndian.PutUint16(buf[2:], uint16(len(data)))
	copy(buf[blockHeader:], data)
	_, err = s.dev.WriteAt(buf, 0)
	return err
}

// Erase stored credentials.
func (s *BlockStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.EraseBlocks(0, 1)
}
