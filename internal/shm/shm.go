// Package shm implements the daemon's named shared-memory transport:
// the ring buffer (ring.go) and point-in-time snapshots (snapshot.go),
// both backed by files under /dev/shm so a client process can open
// them by name without any fd-passing over the RPC socket
// (internal/rpcproto only ever exchanges names and lengths).
package shm

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Dir is where named shared-memory objects live. Linux mounts tmpfs
// here by default; a plain file underneath it is visible to every
// process on the machine with the right permissions, which is all the
// ring and snapshot transport needs.
const Dir = "/dev/shm"

// Mapping is an open, memory-mapped shared-memory object.
type Mapping struct {
	name string
	f    *os.File
	data []byte
}

// pageRound rounds size up to the next multiple of the system page
// size; mappings are always whole pages.
func pageRound(size int) int {
	pg := unix.Getpagesize()
	return (size + pg - 1) / pg * pg
}

// Create creates (or truncates) a new shared-memory object named name
// of exactly size bytes (rounded up to a page) and maps it read-write.
// The caller owns the returned Mapping's lifetime: Close unmaps and
// closes the fd, Unlink additionally removes the name from /dev/shm.
func Create(name string, size int) (*Mapping, error) {
	total := pageRound(size)
	path := Dir + "/" + name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, xerrors.Errorf("shm: create %s: %w", name, err)
	}
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, xerrors.Errorf("shm: truncate %s: %w", name, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, xerrors.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Mapping{name: name, f: f, data: data}, nil
}

// Open maps an existing shared-memory object named name read-only.
// size is the caller's expected total length (from the RPC handshake);
// Open fails if the object is smaller than that.
func Open(name string, size int) (*Mapping, error) {
	path := Dir + "/" + name
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, xerrors.Errorf("shm: open %s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("shm: stat %s: %w", name, err)
	}
	if int(fi.Size()) < size {
		f.Close()
		return nil, xerrors.Errorf("shm: %s is %d bytes, want at least %d", name, fi.Size(), size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Mapping{name: name, f: f, data: data}, nil
}

// Name returns the shared-memory object's name (not its /dev/shm
// path).
func (m *Mapping) Name() string { return m.name }

// Len returns the mapping's total byte length.
func (m *Mapping) Len() int { return len(m.data) }

// Bytes returns the mapped region. Callers performing cross-process
// synchronization must go through the atomic helpers in ring.go rather
// than reading/writing this slice directly for header fields.
func (m *Mapping) Bytes() []byte { return m.data }

// Close unmaps the region and closes the backing file descriptor. It
// does not remove the name from /dev/shm; call Unlink for that.
func (m *Mapping) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Unlink removes the object's name from /dev/shm. Safe to call after
// Close, or concurrently with other processes' open mappings (POSIX
// shared memory, like any tmpfs file, stays valid for already-open
// fds after unlink).
func (m *Mapping) Unlink() error {
	return os.Remove(Dir + "/" + m.name)
}
