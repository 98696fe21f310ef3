package memory

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// canary derives the check value stored in the header at addr. It is keyed
// so a stray write of a plausible header is unlikely to pass.
func (a *Arena) canary(addr uintptr) uint32 {
	if !a.hardened {
		return 0
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))

	sum := blake2b.Sum256(append(append([]byte(nil), a.key...), buf[:]...))

	return binary.LittleEndian.Uint32(sum[:4])
}

func (a *Arena) Hardened() bool {
	return a.hardened
}
