package trap

import (
	"context"

	"github.com/evanphx/synapse/kernel"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Frame is the register block trap entry pushes, in push order. Trap
// return pops the same layout.
type Frame struct {
	DS                                     uint32
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
	IntNo, ErrCode                         uint32
	EIP, CS, EFLAGS, UserESP, SS           uint32
}

const (
	TimerVector = 0x20
	YieldVector = 0x81
)

var ErrUnhandledVector = errors.New("unhandled interrupt vector")

type Handler func(context.Context, hclog.Logger, *kernel.Scheduler, *Frame) error

var Vectors [256]Handler

// ToContext builds the scheduler's register snapshot from a trap frame.
// The frame carries no CR3, so the caller supplies the live one.
func (f *Frame) ToContext(cr3 uint32) kernel.Context {
	return kernel.Context{
		Version: kernel.ContextVersion,
		EAX:     f.EAX,
		ECX:     f.ECX,
		EDX:     f.EDX,
		EBX:     f.EBX,
		ESP:     f.ESP,
		EBP:     f.EBP,
		ESI:     f.ESI,
		EDI:     f.EDI,
		EFLAGS:  f.EFLAGS,
		CR3:     cr3,
		EIP:     f.EIP,
	}
}

// Load copies a restored context back into the frame for trap return.
func (f *Frame) Load(c *kernel.Context) {
	f.EAX = c.EAX
	f.ECX = c.ECX
	f.EDX = c.EDX
	f.EBX = c.EBX
	f.ESP = c.ESP
	f.EBP = c.EBP
	f.ESI = c.ESI
	f.EDI = c.EDI
	f.EFLAGS = c.EFLAGS
	f.EIP = c.EIP
}
