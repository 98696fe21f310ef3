package memory

import (
	"sync"

	"github.com/evanphx/synapse/log"
	"github.com/pkg/errors"
)

const PageSize = 4096

// directoryBase is where the first page directory is placed. Directories
// are handed out one page apart from here.
const directoryBase = 0x00400000

type Region struct {
	Start, Size uintptr
}

func (reg *Region) Contains(x uintptr) bool {
	if x < reg.Start {
		return false
	}

	if x >= reg.Start+reg.Size {
		return false
	}

	return true
}

func pageRound(sz uintptr) uintptr {
	if sz < PageSize {
		return PageSize
	}

	diff := sz % PageSize
	if diff == 0 {
		return sz
	}

	return sz + (PageSize - diff)
}

// PageDirectory is the opaque address space handle a process owns. Only
// the paging layer looks inside it.
type PageDirectory struct {
	base    uintptr
	regions []*Region
	size    uintptr
	dead    bool
}

// Base is the physical address loaded into CR3 when the directory is
// activated.
func (pd *PageDirectory) Base() uintptr {
	return pd.base
}

func (pd *PageDirectory) Size() uintptr {
	return pd.size
}

func (pd *PageDirectory) FindRegion(addr uintptr) (*Region, bool) {
	for _, reg := range pd.regions {
		if reg.Contains(addr) {
			return reg, true
		}
	}

	return nil, false
}

var (
	ErrBadRegionRequest = errors.New("bad region request")
	ErrUnknownDirectory = errors.New("unknown page directory")
	ErrDirectoryActive  = errors.New("page directory is active")
)

// Map records a page rounded region in the directory. Mapping inside an
// existing region returns that region when it is large enough.
func (pd *PageDirectory) Map(addr, size uintptr) (*Region, error) {
	if pd.dead {
		return nil, ErrUnknownDirectory
	}

	if reg, ok := pd.FindRegion(addr); ok {
		if reg.Start+reg.Size-addr < size {
			return nil, errors.Wrapf(ErrBadRegionRequest, "addr=%#x size=%#x", addr, size)
		}

		return reg, nil
	}

	reg := &Region{
		Start: addr,
		Size:  pageRound(size),
	}

	pd.regions = append(pd.regions, reg)
	pd.size += reg.Size

	return reg, nil
}

// AddressSpaces is the paging collaborator: it creates, destroys and
// activates page directories.
type AddressSpaces struct {
	mu sync.Mutex

	next        uintptr
	live        map[uintptr]*PageDirectory
	active      *PageDirectory
	activations int
}

func NewAddressSpaces() *AddressSpaces {
	return &AddressSpaces{
		next: directoryBase,
		live: make(map[uintptr]*PageDirectory),
	}
}

func (as *AddressSpaces) Create() (*PageDirectory, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	pd := &PageDirectory{base: as.next}
	as.next += PageSize
	as.live[pd.base] = pd

	log.L.Trace("pagedir-create", "base", hexAddr(pd.base))

	return pd, nil
}

func (as *AddressSpaces) Destroy(pd *PageDirectory) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if pd == nil || as.live[pd.base] != pd {
		return ErrUnknownDirectory
	}

	if as.active == pd {
		return errors.Wrapf(ErrDirectoryActive, "destroying %#x", pd.base)
	}

	delete(as.live, pd.base)
	pd.dead = true
	pd.regions = nil

	log.L.Trace("pagedir-destroy", "base", hexAddr(pd.base))

	return nil
}

// Activate switches the translation root to pd.
func (as *AddressSpaces) Activate(pd *PageDirectory) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if pd == nil || as.live[pd.base] != pd {
		return ErrUnknownDirectory
	}

	as.active = pd
	as.activations++

	return nil
}

func (as *AddressSpaces) Active() *PageDirectory {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.active
}

// Activations counts Activate calls, i.e. translation cache flushes.
func (as *AddressSpaces) Activations() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.activations
}

func (as *AddressSpaces) Live() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return len(as.live)
}
