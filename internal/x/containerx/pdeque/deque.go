package pdeque

import "sort"

// Elem is an element on a priority deque.
type Elem interface {
	// Less returns true if this element has a higher priority than v.
	Less(v Elem) bool
}

// Deque is a double-ended priority queue.
//
// The "front" of the queue contains the element with the highest priority, the
// "back" contains the element with the lowest priority.
//
// It is not safe for concurrent use.
type Deque struct {
	elems []Elem
}

// Push adds an element to the queue.
//
// It returns true if e has a higher priority than the previous front element,
// that is, e is the new front of the queue.
func (d *Deque) Push(e Elem) bool {
	i := sort.Search(
		len(d.elems),
		func(i int) bool {
			return e.Less(d.elems[i])
		},
	)

	d.elems = append(d.elems, nil)
	copy(d.elems[i+1:], d.elems[i:])
	d.elems[i] = e

	return i == 0
}

// PeekFront returns the element with the highest priority without removing it
// from the queue.
//
// It returns false if the queue is empty.
func (d *Deque) PeekFront() (Elem, bool) {
	if len(d.elems) == 0 {
		return nil, false
	}

	return d.elems[0], true
}

// PopFront removes and returns the element with the highest priority.
//
// It returns false if the queue is empty.
func (d *Deque) PopFront() (Elem, bool) {
	e, ok := d.PeekFront()
	if !ok {
		return nil, false
	}

	d.elems[0] = nil
	d.elems = d.elems[1:]

	return e, true
}

// PeekBack returns the element with the lowest priority without removing it
// from the queue.
//
// It returns false if the queue is empty.
func (d *Deque) PeekBack() (Elem, bool) {
	if len(d.elems) == 0 {
		return nil, false
	}

	return d.elems[len(d.elems)-1], true
}

// PopBack removes and returns the element with the lowest priority.
//
// It returns false if the queue is empty.
func (d *Deque) PopBack() (Elem, bool) {
	e, ok := d.PeekBack()
	if !ok {
		return nil, false
	}

	n := len(d.elems) - 1
	d.elems[n] = nil
	d.elems = d.elems[:n]

	return e, true
}

// Remove removes the first element for which pred returns true.
//
// It returns false if no such element exists.
func (d *Deque) Remove(pred func(Elem) bool) bool {
	for i, e := range d.elems {
		if pred(e) {
			copy(d.elems[i:], d.elems[i+1:])
			n := len(d.elems) - 1
			d.elems[n] = nil
			d.elems = d.elems[:n]
			return true
		}
	}

	return false
}

// Len returns the number of elements in the queue.
func (d *Deque) Len() int {
	return len(d.elems)
}
