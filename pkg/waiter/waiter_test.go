package waiter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotify(t *testing.T) {
	var w Waiter

	c := make(chan struct{}, 1)
	ev := w.RegisterChannel(2, c)
	require.Equal(t, 1, w.Count())

	w.Notify(1)
	require.Len(t, c, 0)

	w.Notify(2)
	w.Notify(2)
	require.Len(t, c, 1)

	w.Unregister(ev)
	require.Equal(t, 0, w.Count())
}
