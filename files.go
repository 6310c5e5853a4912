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
	"bytes"
	"sync"
)

// File interface for file handler implementations:
// The interface methods are called by the 9p protocol handler on demand.
// The implementation is free to handle the read/write calls according
// to its own logic.
type File interface {
	Read() ([]byte, error)
	Write([]byte) error
}

//----------------------------------------------------------------------

// NopFile ignores all read/write requests
type NopFile struct{}

// Read returns emtpy file
func (f *NopFile) Read() (data []byte, err error) {
	return
}

// Write to file is ignored
func (f *NopFile) Write([]byte) (err error) {
	return
}

//----------------------------------------------------------------------

// TextFile with (small) static text content.
type TextFile struct {
	NopFile
	body string
}

// NewTextFile with given text content.
func NewTextFile(content string) *TextFile {
	return &TextFile{
		body: content,
	}
}

// Read implementation: return file content.
func (f *TextFile) Read() ([]byte, error) {
	return []byte(f.body), nil
}

//----------------------------------------------------------------------

// FuncFile content is returned by a function.
type FuncFile struct {
	NopFile
	fcn func() ([]byte, error)
}

// NewFuncFile with specified function.
func NewFuncFile(fcn func() ([]byte, error)) *FuncFile {
	return &FuncFile{
		fcn: fcn,
	}
}

// Read implementation: return file content.
func (f *FuncFile) Read() ([]byte, error) {
	return f.fcn()
}

//----------------------------------------------------------------------

// CtlFile passes every write (trimmed) to a command handler and reads
// back the result of the last command.
type CtlFile struct {
	mu     sync.Mutex
	fcn    func(cmd string) (string, error)
	status func() string
	last   string
}

// NewCtlFile with the given command handler.
func NewCtlFile(fcn func(cmd string) (string, error)) *CtlFile {
	return &CtlFile{fcn: fcn}
}

// WithStatus makes reads return the given status instead of the result
// of the last command.
func (f *CtlFile) WithStatus(status func() string) *CtlFile {
	f.status = status
	return f
}

// Read returns the result of the last command.
func (f *CtlFile) Read() ([]byte, error) {
	if f.status != nil {
		return []byte(f.status() + "\n"), nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(f.last), nil
}

// Write executes a command.
func (f *CtlFile) Write(data []byte) error {
	res, err := f.fcn(string(bytes.TrimSpace(data)))
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.last = res
	f.mu.Unlock()
	return nil
}

//----------------------------------------------------------------------

// ValueFile holds a small value written by a client (e.g. a credential
// field). Reading returns the value unless the file is secret.
type ValueFile struct {
	mu     sync.Mutex
	value  []byte
	secret bool
}

// NewValueFile creates an empty value; secret values never read back.
func NewValueFile(secret bool) *ValueFile {
	return &ValueFile{secret: secret}
}

// Read the value
func (f *ValueFile) Read() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secret {
		return nil, nil
	}
	return bytes.Clone(f.value), nil
}

// Write replaces the value (trailing newline stripped).
func (f *ValueFile) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = bytes.TrimRight(bytes.Clone(data), "\r\n")
	return nil
}

// Value returns the current value.
func (f *ValueFile) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.value)
}

// Reset the value.
func (f *ValueFile) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = nil
}
