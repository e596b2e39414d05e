package userprog

import (
	"debug/elf"
	"fmt"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/vm"
)

// fileReaderAt adapts a devices.File (Seek+Read only) to io.ReaderAt, the
// random-access pattern debug/elf's header parser needs. Safe here only
// because Exec drives it single-threaded, before the file is shared with
// anything else.
type fileReaderAt struct{ f devices.File }

func (r fileReaderAt) ReadAt(buf []byte, off int64) (int, error) {
	r.f.Seek(off)
	n, err := r.f.Read(buf)
	if err != nil {
		return n, err
	}
	if n < len(buf) {
		return n, fmt.Errorf("userprog: short read at offset %d", off)
	}
	return n, nil
}

// elfPageAux is the Initializer argument for a PT_LOAD page: where in the
// executable its bytes live, and how many of the page's PageSize bytes
// come from the file (the rest are zero-filled).
type elfPageAux struct {
	file      devices.File
	fileOff   int64
	readBytes int
}

// elfSegmentInit satisfies vm.Initializer for PT_LOAD pages: reads
// readBytes from file at fileOff into the claimed frame, zero-fills the
// remainder, and rewrites the page to ANON (spec.md §4.4's "lazily ...
// install UNINIT pages whose initializer reads the file slice at fault
// time"; once loaded the page behaves like any other anonymous page for
// eviction purposes).
func elfSegmentInit(p *vm.Page, aux any) error {
	a := aux.(*elfPageAux)
	if a.readBytes > 0 {
		buf := p.Frame.Data[:a.readBytes]
		a.file.Seek(a.fileOff)
		if _, err := a.file.Read(buf); err != nil {
			return err
		}
	}
	for i := a.readBytes; i < vm.PageSize; i++ {
		p.Frame.Data[i] = 0
	}
	p.Kind = vm.Anon
	p.SwapSlot = -1
	return nil
}

func roundUp(x, align int64) int64 {
	return (x + align - 1) &^ (align - 1)
}

// loadSegments parses f as an ELF64 executable per spec.md §6's loader
// contract (machine=AMD64, class=64, data=LSB, version=1, type=EXEC; only
// PT_LOAD segments; PT_DYNAMIC/PT_INTERP/PT_SHLIB fail the load) and
// installs each PT_LOAD segment as lazily-faulted pages in as, per
// spec.md §4.3's exec description. Returns the entry point.
func loadSegments(as *vm.AddressSpace, f devices.File) (entry uintptr, err error) {
	ef, err := elf.NewFile(fileReaderAt{f})
	if err != nil {
		return 0, fmt.Errorf("userprog: not an ELF file: %w", err)
	}
	if ef.Class != elf.ELFCLASS64 {
		return 0, fmt.Errorf("userprog: not a 64-bit ELF image")
	}
	if ef.Data != elf.ELFDATA2LSB {
		return 0, fmt.Errorf("userprog: not little-endian")
	}
	if ef.Machine != elf.EM_X86_64 {
		return 0, fmt.Errorf("userprog: wrong machine %v, want AMD64", ef.Machine)
	}
	if ef.Type != elf.ET_EXEC {
		return 0, fmt.Errorf("userprog: not an EXEC ELF image")
	}

	for _, prog := range ef.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if err := loadSegment(as, f, prog); err != nil {
				return 0, err
			}
		case elf.PT_DYNAMIC, elf.PT_INTERP, elf.PT_SHLIB:
			return 0, fmt.Errorf("userprog: unsupported segment type %v", prog.Type)
		}
	}
	return uintptr(ef.Entry), nil
}

// loadSegment installs one PT_LOAD segment, following Pintos's own
// load_segment math exactly: the file and memory pages are rounded down
// to page boundaries together (spec.md requires they share a page
// offset), and read_bytes/zero_bytes absorb that leading in-page offset
// so every installed page starts at a page boundary.
func loadSegment(as *vm.AddressSpace, f devices.File, prog *elf.Prog) error {
	va := uintptr(prog.Vaddr)
	fileOff := int64(prog.Off)

	if int64(va)%vm.PageSize != fileOff%vm.PageSize {
		return fmt.Errorf("userprog: segment va/file-offset page-offset mismatch")
	}
	if va < vm.PageSize {
		return fmt.Errorf("userprog: segment maps page 0")
	}
	if va >= vm.KernelBase || va+uintptr(prog.Memsz) > vm.KernelBase {
		return fmt.Errorf("userprog: segment outside user address range")
	}

	writable := prog.Flags&elf.PF_W != 0
	pageOffset := int64(va) % vm.PageSize
	filePage := fileOff - pageOffset
	memPage := va &^ (vm.PageSize - 1)

	var readBytes, zeroBytes int64
	if prog.Filesz > 0 {
		readBytes = pageOffset + int64(prog.Filesz)
		zeroBytes = roundUp(pageOffset+int64(prog.Memsz), vm.PageSize) - readBytes
	} else {
		zeroBytes = roundUp(pageOffset+int64(prog.Memsz), vm.PageSize)
	}

	upage := memPage
	curFileOff := filePage
	for readBytes > 0 || zeroBytes > 0 {
		pageReadBytes := readBytes
		if pageReadBytes > vm.PageSize {
			pageReadBytes = vm.PageSize
		}
		pageZeroBytes := int64(vm.PageSize) - pageReadBytes

		aux := &elfPageAux{file: f, fileOff: curFileOff, readBytes: int(pageReadBytes)}
		if err := as.AllocPageWithInitializer(upage, vm.Anon, writable, elfSegmentInit, aux); err != nil {
			return err
		}

		readBytes -= pageReadBytes
		zeroBytes -= pageZeroBytes
		upage += vm.PageSize
		curFileOff += vm.PageSize
	}
	return nil
}
