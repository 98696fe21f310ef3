package kernel

import "encoding/binary"

// ContextVersion tags the register snapshot layout below. The trap path
// and the scheduler must agree on it.
const ContextVersion = 1

const (
	FlagsReserved        = 0x002
	FlagsInterruptEnable = 0x200
)

// Context is the register snapshot of a suspended thread. It is encoded
// little-endian in field order, and a suspended thread keeps its copy in
// the context slot at the top of its own stack.
type Context struct {
	Version uint32
	EAX     uint32
	ECX     uint32
	EDX     uint32
	EBX     uint32
	ESP     uint32
	EBP     uint32
	ESI     uint32
	EDI     uint32
	EFLAGS  uint32
	CR3     uint32
	EIP     uint32
}

var ContextSize = uintptr(binary.Size(Context{}))

// initialContext is what the first switch into a thread restores: a
// clean register set, interrupts enabled, execution at entry.
func initialContext(entry, sp, cr3 uintptr) Context {
	return Context{
		Version: ContextVersion,
		ESP:     uint32(sp),
		EBP:     uint32(sp),
		EFLAGS:  FlagsInterruptEnable | FlagsReserved,
		CR3:     uint32(cr3),
		EIP:     uint32(entry),
	}
}
