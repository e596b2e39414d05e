package userprog

import (
	"encoding/binary"
	"testing"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalELF hand-assembles a minimal, valid ELF64 EXEC image with a
// single PT_LOAD segment: magic + identification bytes, the fields
// loadSegments validates (class, data, version, machine, type), and one
// program header whose p_vaddr/p_offset share a page offset of zero, per
// spec.md §6's loader contract.
func buildMinimalELF(entry, vaddr uint64, data []byte, writable bool) []byte {
	const ehdrSize = 64
	const segFileOff = 0x1000 // page-aligned, matching vaddr's page offset

	buf := make([]byte, int(segFileOff)+len(data))
	le := binary.LittleEndian

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EI_VERSION current

	le.PutUint16(buf[16:], 2)        // e_type = ET_EXEC
	le.PutUint16(buf[18:], 0x3E)     // e_machine = EM_X86_64
	le.PutUint32(buf[20:], 1)        // e_version
	le.PutUint64(buf[24:], entry)    // e_entry
	le.PutUint64(buf[32:], ehdrSize) // e_phoff
	le.PutUint64(buf[40:], 0)        // e_shoff
	le.PutUint32(buf[48:], 0)        // e_flags
	le.PutUint16(buf[52:], ehdrSize) // e_ehsize
	le.PutUint16(buf[54:], 56)       // e_phentsize
	le.PutUint16(buf[56:], 1)        // e_phnum
	le.PutUint16(buf[58:], 0)        // e_shentsize
	le.PutUint16(buf[60:], 0)        // e_shnum
	le.PutUint16(buf[62:], 0)        // e_shstrndx

	ph := ehdrSize
	flags := uint32(4) // PF_R
	if writable {
		flags |= 2 // PF_W
	}
	le.PutUint32(buf[ph:], 1)                    // p_type = PT_LOAD
	le.PutUint32(buf[ph+4:], flags)               // p_flags
	le.PutUint64(buf[ph+8:], uint64(segFileOff))  // p_offset
	le.PutUint64(buf[ph+16:], vaddr)              // p_vaddr
	le.PutUint64(buf[ph+24:], vaddr)              // p_paddr
	le.PutUint64(buf[ph+32:], uint64(len(data)))  // p_filesz
	le.PutUint64(buf[ph+40:], uint64(len(data)))  // p_memsz
	le.PutUint64(buf[ph+48:], vm.PageSize)         // p_align

	copy(buf[segFileOff:], data)
	return buf
}

func TestLoadSegmentsInstallsLazyPages(t *testing.T) {
	fs := devices.NewFileSystem()
	elfBytes := buildMinimalELF(0x400000, 0x400000, []byte{0xDE, 0xAD, 0xBE, 0xEF}, true)
	require.True(t, fs.Create("prog", int64(len(elfBytes))))
	f, err := fs.Open("prog")
	require.NoError(t, err)
	_, err = f.Write(elfBytes)
	require.NoError(t, err)
	f.Seek(0)

	disk := devices.NewMemDisk(64 * 8)
	swap := vm.NewSwapSpace(disk)
	frames := vm.NewFrameTable(4)
	as := vm.NewAddressSpace(frames, swap)

	entry, err := loadSegments(as, f)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x400000), entry)

	// Not resident until first touched (spec.md §4.4 "lazily").
	p, ok := as.Lookup(0x400000)
	require.True(t, ok)
	assert.Nil(t, p.Frame)

	buf := make([]byte, 4)
	require.NoError(t, as.ReadUser(0x400000, buf))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buf)
}

func TestLoadSegmentsRejectsWrongMachine(t *testing.T) {
	fs := devices.NewFileSystem()
	elfBytes := buildMinimalELF(0x400000, 0x400000, []byte{0}, false)
	elfBytes[18] = 0x03 // EM_386 instead of EM_X86_64
	elfBytes[19] = 0x00
	require.True(t, fs.Create("bad", int64(len(elfBytes))))
	f, err := fs.Open("bad")
	require.NoError(t, err)
	_, err = f.Write(elfBytes)
	require.NoError(t, err)
	f.Seek(0)

	disk := devices.NewMemDisk(64 * 8)
	swap := vm.NewSwapSpace(disk)
	frames := vm.NewFrameTable(4)
	as := vm.NewAddressSpace(frames, swap)

	_, err = loadSegments(as, f)
	assert.Error(t, err)
}
