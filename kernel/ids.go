package kernel

// idSpace hands out the lowest free identifier, growing a high water mark
// only when every identifier below it is taken.
type idSpace struct {
	max       int
	highWater int
	used      map[int]struct{}
}

func newIDSpace(max int) *idSpace {
	return &idSpace{
		max:  max,
		used: make(map[int]struct{}),
	}
}

func (s *idSpace) assign() (int, bool) {
	for i := 1; i <= s.highWater; i++ {
		if _, ok := s.used[i]; !ok {
			s.used[i] = struct{}{}
			return i, true
		}
	}

	if s.highWater >= s.max {
		return 0, false
	}

	s.highWater++
	id := s.highWater
	s.used[id] = struct{}{}

	return id, true
}

func (s *idSpace) release(id int) {
	delete(s.used, id)
}
