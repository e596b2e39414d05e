package devices

import (
	"fmt"
	"sync"
)

// File is the file-system collaborator contract of spec.md §6: open,
// close, read, write, seek, tell, length, create, remove, reopen,
// duplicate, deny_write, allow_write. The real on-disk file system is
// explicitly out of scope (spec.md §1); only this contract is honored.
type File interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Seek(pos int64)
	Tell() int64
	Length() int64
	// DenyWrite marks the file non-writable while an executable is loaded
	// from it (spec.md §4.3 "denies writes to the executable file").
	DenyWrite()
	AllowWrite()
	// Reopen returns a new File sharing the same backing data but with an
	// independent seek position (spec.md §6 reopen).
	Reopen() File
	// Duplicate returns a new File sharing the same backing data whose
	// seek position starts at this File's current position and moves
	// independently afterwards (the fork case). Reopen instead starts at 0.
	Duplicate() File
	Close() error
}

// FileSystem is a minimal in-memory stand-in for the out-of-scope on-disk
// file system, sufficient to exercise process/exec/vm file-backed paging.
// Grounded on eventloop/registry.go's id-allocation-plus-map pattern,
// applied to directory entries instead of promise ids.
type FileSystem struct {
	mu     sync.Mutex
	inodes map[string]*memInode
}

// NewFileSystem returns an empty in-memory file system.
func NewFileSystem() *FileSystem {
	return &FileSystem{inodes: make(map[string]*memInode)}
}

// memInode is the shared backing store for a file name.
// Removing a name unlinks it from FileSystem.inodes but existing open
// memFile handles keep a direct pointer to the memInode and remain valid
// until closed, matching POSIX unlink semantics (spec.md §9 Open Question,
// resolved in DESIGN.md).
type memInode struct {
	mu          sync.Mutex
	data        []byte
	writeDenied int
}

// Create creates a new zero-filled file of the given initial size. Returns
// false if a file with that name already exists.
func (fs *FileSystem) Create(name string, initialSize int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.inodes[name]; ok {
		return false
	}
	fs.inodes[name] = &memInode{data: make([]byte, initialSize)}
	return true
}

// Remove unlinks name from the directory. Returns false if it didn't
// exist. Existing open handles to the removed inode remain valid.
func (fs *FileSystem) Remove(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.inodes[name]; !ok {
		return false
	}
	delete(fs.inodes, name)
	return true
}

// Open opens name for reading/writing, returning a File with its own
// position, or an error if name doesn't exist.
func (fs *FileSystem) Open(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inode, ok := fs.inodes[name]
	if !ok {
		return nil, fmt.Errorf("devices: no such file %q", name)
	}
	return &memFile{inode: inode}, nil
}

type memFile struct {
	inode *memInode
	pos   int64
}

func (f *memFile) Read(buf []byte) (int, error) {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if f.pos >= int64(len(f.inode.data)) {
		return 0, nil
	}
	n := copy(buf, f.inode.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Write(buf []byte) (int, error) {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if f.inode.writeDenied > 0 {
		return 0, fmt.Errorf("devices: write denied (executable in use)")
	}
	end := f.pos + int64(len(buf))
	// Writing past end-of-file extends with zeros (DESIGN.md Open Question 1).
	if end > int64(len(f.inode.data)) {
		grown := make([]byte, end)
		copy(grown, f.inode.data)
		f.inode.data = grown
	}
	n := copy(f.inode.data[f.pos:end], buf)
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Seek(pos int64) { f.pos = pos }
func (f *memFile) Tell() int64    { return f.pos }

func (f *memFile) Length() int64 {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	return int64(len(f.inode.data))
}

func (f *memFile) DenyWrite() {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	f.inode.writeDenied++
}

func (f *memFile) AllowWrite() {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if f.inode.writeDenied > 0 {
		f.inode.writeDenied--
	}
}

func (f *memFile) Reopen() File    { return &memFile{inode: f.inode} }
func (f *memFile) Duplicate() File { return &memFile{inode: f.inode, pos: f.pos} }
func (f *memFile) Close() error    { return nil }
