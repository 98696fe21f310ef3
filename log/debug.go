package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

func EnableDebug() {
	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
		return
	}

	L.SetLevel(hclog.Debug)
}

// SetLevel accepts hclog level names ("trace", "debug", "info", ...). It
// leaves the level alone when TRACE is set.
func SetLevel(name string) {
	if str := os.Getenv("TRACE"); str != "" {
		return
	}

	lvl := hclog.LevelFromString(name)
	if lvl == hclog.NoLevel {
		return
	}

	L.SetLevel(lvl)
}
