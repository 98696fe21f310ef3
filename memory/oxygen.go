package memory

import (
	"encoding/binary"

	"github.com/evanphx/synapse/log"
	"github.com/pkg/errors"
)

// Oxygen is a first-fit heap over a single contiguous arena. Every block
// is a header followed directly by its payload, and the headers form a
// singly linked list that covers the whole arena.
//
// Header layout (little-endian):
//
//	0  next   uint64  address of the next header, noBlock at the end
//	8  size   uint64  payload bytes
//	16 free   uint32  1 when the block is free
//	20 canary uint32  header check value, zero unless hardened
//
// The arena has no locking of its own. Callers serialize access.

const (
	WordSize   = 8
	HeaderSize = 24

	// MinSplitRemainder is the smallest payload a split is allowed to
	// leave behind. Smaller slivers stay attached to the allocation.
	MinSplitRemainder = 16
)

const noBlock = ^uintptr(0)

var (
	ErrAlreadyInitialized = errors.New("arena already initialized")
	ErrNotInitialized     = errors.New("arena not initialized")
	ErrArenaTooSmall      = errors.New("arena too small")
	ErrOutOfMemory        = errors.New("out of memory")
	ErrInvalidSize        = errors.New("invalid allocation size")
	ErrBadAlignment       = errors.New("alignment must be a power of two")
	ErrBadPointer         = errors.New("pointer not owned by arena")
	ErrDoubleFree         = errors.New("block already free")
	ErrCorruptHeader      = errors.New("block header canary mismatch")
	ErrCorruptHeap        = errors.New("heap block list corrupted")
)

type header struct {
	next   uintptr
	size   uintptr
	free   bool
	canary uint32
}

// Block describes one entry of the block list.
type Block struct {
	Addr uintptr
	Size uintptr
	Free bool
}

// Payload returns the first usable address of the block.
func (b Block) Payload() uintptr {
	return b.Addr + HeaderSize
}

// End returns the address just past the block's payload.
func (b Block) End() uintptr {
	return b.Addr + HeaderSize + b.Size
}

type Arena struct {
	base, end uintptr
	mem       []byte

	hardened bool
	key      []byte

	initialized bool
}

type Option func(*Arena)

// WithBacking makes the arena use mem for its bytes instead of
// allocating a slice. mem[0] corresponds to the word aligned base.
func WithBacking(mem []byte) Option {
	return func(a *Arena) {
		a.mem = mem
	}
}

// WithHardening enables header canaries keyed by seed. Hardened arenas
// detect double frees and trampled headers.
func WithHardening(seed []byte) Option {
	return func(a *Arena) {
		a.hardened = true
		a.key = append([]byte(nil), seed...)
	}
}

func NewArena(opts ...Option) *Arena {
	a := &Arena{}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func alignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

func alignDown(x, align uintptr) uintptr {
	return x &^ (align - 1)
}

// Init makes [base, base+length) a single free block. It may only be
// called once.
func (a *Arena) Init(base, length uintptr) error {
	if a.initialized {
		return ErrAlreadyInitialized
	}

	aligned := alignUp(base, WordSize)
	if aligned < base || length < aligned-base {
		return errors.Wrapf(ErrArenaTooSmall, "base=%#x length=%#x", base, length)
	}

	length = alignDown(length-(aligned-base), WordSize)
	if length < HeaderSize+MinSplitRemainder || aligned+length < aligned {
		return errors.Wrapf(ErrArenaTooSmall, "base=%#x length=%#x", base, length)
	}

	if a.mem == nil {
		a.mem = make([]byte, length)
	} else {
		if uintptr(len(a.mem)) < length {
			return errors.Wrapf(ErrArenaTooSmall, "backing holds %#x bytes, need %#x", len(a.mem), length)
		}
		a.mem = a.mem[:length]
	}

	a.base = aligned
	a.end = aligned + length
	a.initialized = true

	a.writeHeader(a.base, header{
		next: noBlock,
		size: length - HeaderSize,
		free: true,
	})

	log.L.Debug("oxygen-init", "base", hexAddr(a.base), "length", length, "hardened", a.hardened)

	return nil
}

func (a *Arena) Base() uintptr {
	return a.base
}

func (a *Arena) End() uintptr {
	return a.end
}

func (a *Arena) Len() uintptr {
	return a.end - a.base
}

func (a *Arena) Contains(addr uintptr) bool {
	return addr >= a.base && addr < a.end
}

func (a *Arena) ready() error {
	if !a.initialized {
		return ErrNotInitialized
	}

	return nil
}

func (a *Arena) headerAt(addr uintptr) (header, error) {
	if addr < a.base || addr > a.end-HeaderSize || (addr-a.base)%WordSize != 0 {
		return header{}, errors.Wrapf(ErrCorruptHeap, "header address %#x outside arena", addr)
	}

	b := a.mem[addr-a.base:]
	le := binary.LittleEndian

	h := header{
		next:   uintptr(le.Uint64(b[0:])),
		size:   uintptr(le.Uint64(b[8:])),
		free:   le.Uint32(b[16:]) == 1,
		canary: le.Uint32(b[20:]),
	}

	return h, nil
}

// readHeader is used on paths where the list is assumed intact. A broken
// list there is an invariant violation.
func (a *Arena) readHeader(addr uintptr) header {
	h, err := a.headerAt(addr)
	if err != nil {
		panic(err)
	}

	return h
}

func (a *Arena) writeHeader(addr uintptr, h header) {
	b := a.mem[addr-a.base:]
	le := binary.LittleEndian

	var free uint32
	if h.free {
		free = 1
	}

	le.PutUint64(b[0:], uint64(h.next))
	le.PutUint64(b[8:], uint64(h.size))
	le.PutUint32(b[16:], free)
	le.PutUint32(b[20:], a.canary(addr))
}

// Alloc returns the payload address of a block with at least size
// usable bytes, taken from the first free block that fits.
func (a *Arena) Alloc(size uintptr) (uintptr, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}

	if size == 0 {
		return 0, ErrInvalidSize
	}

	if size > a.Len() {
		return 0, errors.Wrapf(ErrOutOfMemory, "alloc size=%d", size)
	}

	size = alignUp(size, WordSize)

	for addr := a.base; addr != noBlock; {
		h := a.readHeader(addr)

		if h.free && h.size >= size {
			a.take(addr, h, size)
			log.L.Trace("oxygen-alloc", "addr", hexAddr(addr+HeaderSize), "size", size)
			return addr + HeaderSize, nil
		}

		addr = h.next
	}

	return 0, errors.Wrapf(ErrOutOfMemory, "alloc size=%d", size)
}

// take marks the free block at addr used, splitting off the tail as a new
// free block when it can hold a header plus MinSplitRemainder.
func (a *Arena) take(addr uintptr, h header, size uintptr) {
	if h.size >= size+HeaderSize+MinSplitRemainder {
		rest := addr + HeaderSize + size

		a.writeHeader(rest, header{
			next: h.next,
			size: h.size - size - HeaderSize,
			free: true,
		})

		h.next = rest
		h.size = size
	}

	h.free = false
	a.writeHeader(addr, h)
}

// AllocAlign is Alloc with the payload address a multiple of alignment.
// Any space skipped to reach the aligned payload becomes a free block of
// its own.
func (a *Arena) AllocAlign(size, alignment uintptr) (uintptr, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}

	if alignment == 0 || alignment&(alignment-1) != 0 {
		return 0, errors.Wrapf(ErrBadAlignment, "alignment=%d", alignment)
	}

	if alignment < WordSize {
		alignment = WordSize
	}

	if size == 0 {
		return 0, ErrInvalidSize
	}

	if size > a.Len() || alignment > a.Len() {
		return 0, errors.Wrapf(ErrOutOfMemory, "alloc size=%d align=%d", size, alignment)
	}

	size = alignUp(size, WordSize)

	for addr := a.base; addr != noBlock; {
		h := a.readHeader(addr)

		if h.free {
			if payload, ok := fitAligned(addr, h, size, alignment); ok {
				a.placeAligned(addr, h, payload, size)
				log.L.Trace("oxygen-alloc-align", "addr", hexAddr(payload), "size", size, "align", alignment)
				return payload, nil
			}
		}

		addr = h.next
	}

	return 0, errors.Wrapf(ErrOutOfMemory, "alloc size=%d align=%d", size, alignment)
}

// fitAligned reports the aligned payload address the free block at addr
// could serve. A padding gap must be able to stand alone as a free block.
func fitAligned(addr uintptr, h header, size, alignment uintptr) (uintptr, bool) {
	payload := addr + HeaderSize
	end := payload + h.size

	aligned := alignUp(payload, alignment)
	if aligned < payload {
		return 0, false
	}

	if aligned != payload {
		for aligned-payload < HeaderSize+MinSplitRemainder {
			aligned += alignment
			if aligned < payload {
				return 0, false
			}
		}
	}

	if aligned > end || end-aligned < size {
		return 0, false
	}

	return aligned, true
}

func (a *Arena) placeAligned(addr uintptr, h header, payload, size uintptr) {
	if payload == addr+HeaderSize {
		a.take(addr, h, size)
		return
	}

	hdr := payload - HeaderSize
	end := addr + HeaderSize + h.size

	a.writeHeader(addr, header{
		next: hdr,
		size: hdr - (addr + HeaderSize),
		free: true,
	})

	rest := header{
		next: h.next,
		size: end - payload,
		free: true,
	}

	a.writeHeader(hdr, rest)
	a.take(hdr, rest, size)
}

// Free releases the block whose payload starts at ptr and merges it with
// free neighbours on either side.
func (a *Arena) Free(ptr uintptr) error {
	if err := a.ready(); err != nil {
		return err
	}

	if ptr < a.base+HeaderSize || ptr >= a.end || (ptr-a.base)%WordSize != 0 {
		return errors.Wrapf(ErrBadPointer, "free %#x", ptr)
	}

	addr := ptr - HeaderSize

	prev, found := a.predecessor(addr)
	if !found {
		return errors.Wrapf(ErrBadPointer, "free %#x: not a block", ptr)
	}

	h := a.readHeader(addr)

	if a.hardened {
		if h.canary != a.canary(addr) {
			return errors.Wrapf(ErrCorruptHeader, "free %#x", ptr)
		}

		if h.free {
			return errors.Wrapf(ErrDoubleFree, "free %#x", ptr)
		}
	}

	h.free = true

	if h.next != noBlock {
		n := a.readHeader(h.next)
		if n.free {
			h.size += HeaderSize + n.size
			h.next = n.next
		}
	}

	a.writeHeader(addr, h)

	if prev != noBlock {
		p := a.readHeader(prev)
		if p.free {
			p.size += HeaderSize + h.size
			p.next = h.next
			a.writeHeader(prev, p)
		}
	}

	log.L.Trace("oxygen-free", "addr", hexAddr(ptr))

	return nil
}

// predecessor finds the header linking to addr. The first block has no
// predecessor and yields noBlock.
func (a *Arena) predecessor(addr uintptr) (uintptr, bool) {
	if addr == a.base {
		return noBlock, true
	}

	for cur := a.base; cur != noBlock; {
		h := a.readHeader(cur)
		if h.next == addr {
			return cur, true
		}

		if h.next != noBlock && h.next > addr {
			return noBlock, false
		}

		cur = h.next
	}

	return noBlock, false
}

// FindFree returns the first free block able to hold length bytes.
func (a *Arena) FindFree(length uintptr) (Block, bool) {
	if a.ready() != nil {
		return Block{}, false
	}

	for addr := a.base; addr != noBlock; {
		h := a.readHeader(addr)
		if h.free && h.size >= length {
			return Block{Addr: addr, Size: h.size, Free: true}, true
		}

		addr = h.next
	}

	return Block{}, false
}

// BlockAt describes the block whose header sits at addr.
func (a *Arena) BlockAt(addr uintptr) (Block, error) {
	if err := a.ready(); err != nil {
		return Block{}, err
	}

	h, err := a.headerAt(addr)
	if err != nil {
		return Block{}, err
	}

	return Block{Addr: addr, Size: h.size, Free: h.free}, nil
}

// Blocks returns the block list in address order.
func (a *Arena) Blocks() []Block {
	if a.ready() != nil {
		return nil
	}

	var blocks []Block

	for addr := a.base; addr != noBlock; {
		h := a.readHeader(addr)
		blocks = append(blocks, Block{Addr: addr, Size: h.size, Free: h.free})
		addr = h.next
	}

	return blocks
}

// Check walks the whole block list and verifies that it partitions the
// arena with no two neighbouring free blocks.
func (a *Arena) Check() error {
	if err := a.ready(); err != nil {
		return err
	}

	limit := int(a.Len()/HeaderSize) + 1

	expect := a.base
	prevFree := false

	for addr, n := a.base, 0; addr != noBlock; n++ {
		if n > limit {
			return errors.Wrapf(ErrCorruptHeap, "block list cycle at %#x", addr)
		}

		if addr != expect {
			return errors.Wrapf(ErrCorruptHeap, "block at %#x, expected %#x", addr, expect)
		}

		h, err := a.headerAt(addr)
		if err != nil {
			return err
		}

		if h.canary != a.canary(addr) {
			return errors.Wrapf(ErrCorruptHeader, "block at %#x", addr)
		}

		if h.free && prevFree {
			return errors.Wrapf(ErrCorruptHeap, "uncoalesced free block at %#x", addr)
		}

		if h.size > a.end-addr-HeaderSize {
			return errors.Wrapf(ErrCorruptHeap, "block at %#x overruns arena", addr)
		}

		expect = addr + HeaderSize + h.size
		prevFree = h.free
		addr = h.next
	}

	if expect != a.end {
		return errors.Wrapf(ErrCorruptHeap, "block list ends at %#x, arena ends at %#x", expect, a.end)
	}

	return nil
}

type Stats struct {
	Blocks      int
	FreeBlocks  int
	FreeBytes   uintptr
	UsedBytes   uintptr
	LargestFree uintptr
}

func (a *Arena) Stats() Stats {
	var st Stats

	for _, b := range a.Blocks() {
		st.Blocks++

		if b.Free {
			st.FreeBlocks++
			st.FreeBytes += b.Size
			if b.Size > st.LargestFree {
				st.LargestFree = b.Size
			}
		} else {
			st.UsedBytes += b.Size
		}
	}

	return st
}

// Project returns the arena bytes backing [addr, addr+size).
func (a *Arena) Project(addr, size uintptr) ([]byte, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}

	if addr < a.base || size > a.end-a.base || addr > a.end-size {
		return nil, errors.Wrapf(ErrBadPointer, "error projecting address=%#x, size=%#x", addr, size)
	}

	off := addr - a.base
	return a.mem[off : off+size], nil
}

func (a *Arena) ReadAt(b []byte, off int64) (int, error) {
	mem, err := a.Project(uintptr(off), uintptr(len(b)))
	if err != nil {
		return 0, err
	}

	return copy(b, mem), nil
}

func (a *Arena) WriteAt(b []byte, off int64) (int, error) {
	mem, err := a.Project(uintptr(off), uintptr(len(b)))
	if err != nil {
		return 0, err
	}

	return copy(mem, b), nil
}
