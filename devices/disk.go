// Package devices implements the external collaborators spec.md §1 and §6
// list as out-of-scope for the kernel core proper: the block device backing
// swap, the file system, the page-map primitives, and the console. Only
// their contracts are specified by spec.md; this package supplies minimal,
// host-backed implementations sufficient to exercise the kernel core.
package devices

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed sector size of the swap block device, per
// spec.md §6 ("sector = 512 bytes").
const SectorSize = 512

// Disk is the block-device collaborator contract of spec.md §6:
// disk_size/disk_read/disk_write, sector-addressed.
type Disk interface {
	// SectorCount returns the total number of SectorSize sectors on disk.
	SectorCount() int64
	// ReadSector reads exactly SectorSize bytes from sector into buf.
	ReadSector(sector int64, buf []byte) error
	// WriteSector writes exactly SectorSize bytes from buf to sector.
	WriteSector(sector int64, buf []byte) error
}

// FileDisk is a Disk backed by a real file, read and written with
// golang.org/x/sys/unix.Pread/Pwrite — the same raw-syscall idiom the
// teacher's eventloop/poller_linux.go and loop.go use for fd-level I/O,
// applied here to sector-addressed disk access instead of socket polling.
type FileDisk struct {
	f       *os.File
	sectors int64
}

// NewFileDisk creates or truncates path to hold exactly sectorCount
// sectors, and returns a Disk backed by it.
func NewFileDisk(path string, sectorCount int64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("devices: create disk file: %w", err)
	}
	if err := f.Truncate(sectorCount * SectorSize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("devices: size disk file: %w", err)
	}
	return &FileDisk{f: f, sectors: sectorCount}, nil
}

// Close releases the underlying file.
func (d *FileDisk) Close() error { return d.f.Close() }

func (d *FileDisk) SectorCount() int64 { return d.sectors }

func (d *FileDisk) ReadSector(sector int64, buf []byte) error {
	if err := d.checkSector(sector, buf); err != nil {
		return err
	}
	n, err := unix.Pread(int(d.f.Fd()), buf[:SectorSize], sector*SectorSize)
	if err != nil {
		return fmt.Errorf("devices: read sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("devices: short read on sector %d: got %d bytes", sector, n)
	}
	return nil
}

func (d *FileDisk) WriteSector(sector int64, buf []byte) error {
	if err := d.checkSector(sector, buf); err != nil {
		return err
	}
	n, err := unix.Pwrite(int(d.f.Fd()), buf[:SectorSize], sector*SectorSize)
	if err != nil {
		return fmt.Errorf("devices: write sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("devices: short write on sector %d: wrote %d bytes", sector, n)
	}
	return nil
}

func (d *FileDisk) checkSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= d.sectors {
		return fmt.Errorf("devices: sector %d out of range [0,%d)", sector, d.sectors)
	}
	if len(buf) < SectorSize {
		return fmt.Errorf("devices: buffer too small for sector I/O: %d < %d", len(buf), SectorSize)
	}
	return nil
}

// MemDisk is an in-memory Disk, useful for tests that don't want real file
// I/O. It satisfies the same contract as FileDisk.
type MemDisk struct {
	data [][SectorSize]byte
}

// NewMemDisk returns a zeroed in-memory disk with sectorCount sectors.
func NewMemDisk(sectorCount int64) *MemDisk {
	return &MemDisk{data: make([][SectorSize]byte, sectorCount)}
}

func (d *MemDisk) SectorCount() int64 { return int64(len(d.data)) }

func (d *MemDisk) ReadSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= int64(len(d.data)) {
		return fmt.Errorf("devices: sector %d out of range [0,%d)", sector, len(d.data))
	}
	copy(buf, d.data[sector][:])
	return nil
}

func (d *MemDisk) WriteSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= int64(len(d.data)) {
		return fmt.Errorf("devices: sector %d out of range [0,%d)", sector, len(d.data))
	}
	copy(d.data[sector][:], buf)
	return nil
}
