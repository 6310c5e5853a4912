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
	"errors"
	"io"
	"path"
	"strings"
	"sync"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot  = errors.New("no root directory")
	errNoFile  = errors.New("no such file or directory")
	errNoDir   = errors.New("not a directory")
	errNoAbs   = errors.New("no absolute path")
	errExists  = errors.New("file exists")
	errIsDir   = errors.New("is a directory")
	errNoWrite = errors.New("permission denied")
)

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

//----------------------------------------------------------------------

// Namespace is a synthetic file system served over 9p.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	mu          sync.RWMutex      // guards dict (9p sessions run concurrently)
	user, group string            // owner of all entries
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextId      uint64            // next Qid.Path
}

// NewNamespace creates a new filesystem (with root directory) owned by
// the given user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	e := ns.newEntry("/", 0555, nil)
	ns.dict[e.ref.Path] = e
	return ns
}

// Create a new entry in the filesystem.
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextId,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	ns.nextId++
	return e
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.dict[0]
}

// NewFile adds a file at the absolute path; the parent must exist.
func (ns *Namespace) NewFile(p string, perm uint32, impl File) error {
	return ns.add(p, perm, impl)
}

// NewDir adds a directory at the absolute path; the parent must exist.
func (ns *Namespace) NewDir(p string, perm uint32) error {
	return ns.add(p, perm, nil)
}

func (ns *Namespace) add(p string, perm uint32, impl File) error {
	dir, name := path.Split(path.Clean(p))
	parent, err := ns.Get(dir)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if parent.children == nil {
		return errNoDir
	}
	if _, ok := parent.children[name]; ok {
		return errExists
	}
	child := ns.newEntry(name, perm, impl)
	parent.children[name] = child
	ns.dict[child.ref.Path] = child
	return nil
}

// Get entry with given path
func (ns *Namespace) Get(p string) (*Entry, error) {
	if len(p) == 0 || p[0] != '/' {
		return nil, errNoAbs
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	curr := ns.dict[0]
	for _, label := range strings.Split(p[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if curr.children == nil {
			return nil, errNoDir
		}
		e, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = e
	}
	return curr, nil
}

// ReadFile returns the content of the file at path.
func (ns *Namespace) ReadFile(p string) ([]byte, error) {
	e, err := ns.Get(p)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, errIsDir
	}
	return e.file.Read()
}

// WriteFile passes data to the file at path.
func (ns *Namespace) WriteFile(p string, data []byte) error {
	e, err := ns.Get(p)
	if err != nil {
		return err
	}
	if e.IsDir() {
		return errIsDir
	}
	if e.ref.Mode&0222 == 0 {
		return errNoWrite
	}
	return e.file.Write(data)
}

// Server returns a 9p server for the namespace. A server handles a
// single connection.
func (ns *Namespace) Server() *ninep.Srv {
	return ninep.NewSrv(func() ninep.FS { return ns })
}

// ServeConn serves 9p on a connection until the peer hangs up. The
// connection is closed on return.
func (ns *Namespace) ServeConn(rwc io.ReadWriteCloser) {
	defer rwc.Close()
	in := &connReader{r: rwc, done: make(chan struct{})}
	go ns.Server().ServeIO(in, rwc)
	<-in.done
}

// connReader ends a 9p connection on the first failed read. The ninep
// server exits the process on read errors, so its read loop is parked
// instead.
type connReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func (c *connReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == nil {
		return n, nil
	}
	if n > 0 {
		return n, nil
	}
	c.once.Do(func() { close(c.done) })
	select {}
}

// ninep FS implementation

func (ns *Namespace) lookup(q *ninep.Qid) (*Entry, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	e, ok := ns.dict[q.Path]
	return e, ok
}

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.lookup(&ninep.Qid{Path: 0}); ok {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.lookup(cur)
	if !ok || e.children == nil {
		return nil
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		var kids []ninep.Dir
		ns.mu.RLock()
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ns.mu.RUnlock()
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Write to a file entry. Every write is passed to the file as a whole
// (control files take one command per write).
func (ns *Namespace) Write(t *ninep.Twrite, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		t.Err(errIsDir)
		return
	}
	if e.ref.Mode&0222 == 0 {
		t.Err(errNoWrite)
		return
	}
	data := t.Data
	if err := e.file.Write(data); err != nil {
		t.Err(err)
		return
	}
	t.Respond(uint32(len(data)))
}

// Clunk releases a fid; entries hold no per-fid state.
func (ns *Namespace) Clunk(t *ninep.Tclunk, q *ninep.Qid) {
	t.Respond()
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
