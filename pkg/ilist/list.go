// Package ilist is a doubly linked list whose nodes live in a backing
// slice. Elements are addressed by stable handles, so insertion and
// removal are O(1) without the caller splicing pointers.
package ilist

// Handle names one element of a List. The zero Handle is never valid.
type Handle uint32

const Nil Handle = 0

type node[T any] struct {
	value      T
	prev, next Handle
	live       bool
}

// List is not safe for concurrent use. The zero value is an empty list.
type List[T any] struct {
	nodes []node[T]
	free  []Handle

	head, tail Handle
	count      int
}

func (l *List[T]) at(h Handle) *node[T] {
	if h == Nil || int(h) > len(l.nodes) {
		return nil
	}

	n := &l.nodes[h-1]
	if !n.live {
		return nil
	}

	return n
}

// PushBack appends v and returns its handle. Handles of removed elements
// are reused.
func (l *List[T]) PushBack(v T) Handle {
	var h Handle

	if k := len(l.free); k > 0 {
		h = l.free[k-1]
		l.free = l.free[:k-1]
	} else {
		l.nodes = append(l.nodes, node[T]{})
		h = Handle(len(l.nodes))
	}

	n := &l.nodes[h-1]
	*n = node[T]{value: v, prev: l.tail, live: true}

	if l.tail != Nil {
		l.nodes[l.tail-1].next = h
	} else {
		l.head = h
	}

	l.tail = h
	l.count++

	return h
}

// Remove unlinks h and returns its value.
func (l *List[T]) Remove(h Handle) (T, bool) {
	n := l.at(h)
	if n == nil {
		var zero T
		return zero, false
	}

	if n.prev != Nil {
		l.nodes[n.prev-1].next = n.next
	} else {
		l.head = n.next
	}

	if n.next != Nil {
		l.nodes[n.next-1].prev = n.prev
	} else {
		l.tail = n.prev
	}

	v := n.value
	*n = node[T]{}

	l.free = append(l.free, h)
	l.count--

	return v, true
}

func (l *List[T]) Get(h Handle) (T, bool) {
	n := l.at(h)
	if n == nil {
		var zero T
		return zero, false
	}

	return n.value, true
}

func (l *List[T]) Contains(h Handle) bool {
	return l.at(h) != nil
}

func (l *List[T]) Len() int {
	return l.count
}

func (l *List[T]) Front() Handle {
	return l.head
}

func (l *List[T]) Back() Handle {
	return l.tail
}

// Next returns the element after h, or Nil at the end of the list.
func (l *List[T]) Next(h Handle) Handle {
	n := l.at(h)
	if n == nil {
		return Nil
	}

	return n.next
}

func (l *List[T]) Prev(h Handle) Handle {
	n := l.at(h)
	if n == nil {
		return Nil
	}

	return n.prev
}

// NextCircular treats the list as a ring. A stale or Nil h starts over at
// the front.
func (l *List[T]) NextCircular(h Handle) Handle {
	if next := l.Next(h); next != Nil {
		return next
	}

	return l.head
}

// Each visits elements front to back until fn returns false.
func (l *List[T]) Each(fn func(h Handle, v T) bool) {
	for h := l.head; h != Nil; h = l.nodes[h-1].next {
		if !fn(h, l.nodes[h-1].value) {
			return
		}
	}
}

// Values returns the elements front to back.
func (l *List[T]) Values() []T {
	out := make([]T, 0, l.count)

	l.Each(func(_ Handle, v T) bool {
		out = append(out, v)
		return true
	})

	return out
}
