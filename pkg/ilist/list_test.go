package ilist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	var l List[string]

	require.Equal(t, 0, l.Len())
	require.Equal(t, Nil, l.Front())
	require.Equal(t, Nil, l.NextCircular(Nil))

	a := l.PushBack("a")
	b := l.PushBack("b")
	c := l.PushBack("c")

	require.Equal(t, []string{"a", "b", "c"}, l.Values())
	require.Equal(t, a, l.Front())
	require.Equal(t, c, l.Back())
	require.Equal(t, b, l.Next(a))
	require.Equal(t, a, l.Prev(b))
	require.Equal(t, a, l.NextCircular(c))

	v, ok := l.Remove(b)
	require.True(t, ok)
	require.Equal(t, "b", v)
	require.False(t, l.Contains(b))
	require.Equal(t, c, l.Next(a))
	require.Equal(t, a, l.Prev(c))

	_, ok = l.Remove(b)
	require.False(t, ok)

	d := l.PushBack("d")
	require.Equal(t, b, d, "freed handles are reused")
	require.Equal(t, []string{"a", "c", "d"}, l.Values())

	l.Remove(a)
	l.Remove(d)
	require.Equal(t, c, l.Front())
	require.Equal(t, c, l.Back())
	require.Equal(t, c, l.NextCircular(c))

	got, ok := l.Get(c)
	require.True(t, ok)
	require.Equal(t, "c", got)
	require.Equal(t, 1, l.Len())
}
