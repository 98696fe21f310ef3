package kernel

import (
	"encoding/binary"

	"github.com/evanphx/synapse/memory"
)

// Control blocks are the heap resident copies of process and thread
// records. The console reads them back out of the arena.

type processBlock struct {
	Pid      uint32
	Priority uint8
	Status   uint8
	_        [2]byte
	Threads  uint32
	PageDir  uint32
	Name     [MaxNameLen + 1]byte
}

type threadBlock struct {
	Tid       uint32
	Pid       uint32
	Priority  uint8
	State     uint8
	_         [2]byte
	Entry     uint32
	Stack     uint32
	StackSize uint32
	ESP       uint32
}

var (
	processBlockSize = uintptr(binary.Size(processBlock{}))
	threadBlockSize  = uintptr(binary.Size(threadBlock{}))
)

func (pb *processBlock) name() string {
	n := 0
	for n < len(pb.Name) && pb.Name[n] != 0 {
		n++
	}

	return string(pb.Name[:n])
}

func writeProcessBlock(arena *memory.Arena, p *Process) {
	pb := processBlock{
		Pid:      uint32(p.Pid),
		Priority: uint8(p.Priority),
		Status:   uint8(p.status),
		Threads:  uint32(p.threads),
		PageDir:  uint32(p.PageDir.Base()),
	}

	copy(pb.Name[:MaxNameLen], p.Name)

	if err := arena.CopyOut(p.block, &pb); err != nil {
		panic(err)
	}
}

func writeThreadBlock(arena *memory.Arena, t *Thread) {
	tb := threadBlock{
		Tid:       uint32(t.Tid),
		Pid:       uint32(t.Process.Pid),
		Priority:  uint8(t.Priority),
		State:     uint8(t.state),
		Entry:     uint32(t.Entry),
		Stack:     uint32(t.stack),
		StackSize: uint32(t.stackSize),
		ESP:       uint32(t.esp),
	}

	if err := arena.CopyOut(t.block, &tb); err != nil {
		panic(err)
	}
}

func readProcessBlock(arena *memory.Arena, addr uintptr) (processBlock, error) {
	var pb processBlock
	err := arena.CopyIn(addr, &pb)
	return pb, err
}

func readThreadBlock(arena *memory.Arena, addr uintptr) (threadBlock, error) {
	var tb threadBlock
	err := arena.CopyIn(addr, &tb)
	return tb, err
}
