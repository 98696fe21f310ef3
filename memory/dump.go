package memory

import (
	"fmt"
	"io"
	"text/tabwriter"
)

type hexAddr uintptr

func (h hexAddr) String() string {
	return fmt.Sprintf("%#x", uintptr(h))
}

func state(free bool) string {
	if free {
		return "free"
	}

	return "used"
}

// DumpBlock writes a one line description of the block whose header is
// at addr.
func (a *Arena) DumpBlock(w io.Writer, addr uintptr) error {
	b, err := a.BlockAt(addr)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "block %#x payload=%#x size=%d %s\n", b.Addr, b.Payload(), b.Size, state(b.Free))
	return err
}

func (a *Arena) DumpMemory(w io.Writer) error {
	if err := a.ready(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n[oxygen %#x-%#x]\n", a.base, a.end)

	tr := tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)

	for i, b := range a.Blocks() {
		fmt.Fprintf(tr, "%d\t%#x\t%#x\t%d\t%s\n", i, b.Addr, b.Payload(), b.Size, state(b.Free))
	}

	st := a.Stats()
	fmt.Fprintf(tr, "total\t\t\tfree=%d used=%d\tblocks=%d\n", st.FreeBytes, st.UsedBytes, st.Blocks)

	return tr.Flush()
}
