// Package position maintains contiguous zero-based ordering fields on the
// ordered lists of a plate: plates within a platter, headers within a plate
// and cards within a header.
//
// Every operation renumbers the affected range so that after it returns
// element i carries pos == i. Operations that fail leave the list untouched.
package position

import (
	"errors"
	"fmt"
)

var ErrInvalidIndex = errors.New("invalid index")

// Positioned is an element that carries its own ordering field.
type Positioned interface {
	Pos() int
	SetPos(int)
}

// Parented is a Positioned element that also references its owning list.
type Parented interface {
	Positioned
	SetParent(string)
}

// MoveWithinList relocates list[oldIndex] to newIndex in place. Elements
// between the two indices shift one slot toward the vacated index.
func MoveWithinList[T Positioned](list []T, oldIndex, newIndex int) error {
	if oldIndex < 0 || oldIndex >= len(list) {
		return fmt.Errorf("%w: old index %d, list length %d", ErrInvalidIndex, oldIndex, len(list))
	}
	if newIndex < 0 || newIndex >= len(list) {
		return fmt.Errorf("%w: new index %d, list length %d", ErrInvalidIndex, newIndex, len(list))
	}
	if oldIndex == newIndex {
		list[newIndex].SetPos(newIndex)
		return nil
	}

	moved := list[oldIndex]
	if oldIndex < newIndex {
		copy(list[oldIndex:newIndex], list[oldIndex+1:newIndex+1])
	} else {
		copy(list[newIndex+1:oldIndex+1], list[newIndex:oldIndex])
	}
	list[newIndex] = moved

	lo, hi := oldIndex, newIndex
	if lo > hi {
		lo, hi = hi, lo
	}
	renumber(list, lo, hi+1)
	return nil
}

// MoveAcrossLists removes src[srcIndex] and inserts it into dst at dstIndex,
// pointing it at parentID. dstIndex == len(dst) appends. The returned slices
// replace src and dst; the caller must not keep using the old ones.
func MoveAcrossLists[T Parented](src, dst []T, srcIndex, dstIndex int, parentID string) ([]T, []T, error) {
	if srcIndex < 0 || srcIndex >= len(src) {
		return src, dst, fmt.Errorf("%w: source index %d, list length %d", ErrInvalidIndex, srcIndex, len(src))
	}
	if dstIndex < 0 || dstIndex > len(dst) {
		return src, dst, fmt.Errorf("%w: destination index %d, list length %d", ErrInvalidIndex, dstIndex, len(dst))
	}

	moved := src[srcIndex]
	newSrc, _, _ := Remove(src, srcIndex)
	moved.SetParent(parentID)
	newDst, _ := Insert(dst, moved, dstIndex)
	return newSrc, newDst, nil
}

// Insert places item at index, shifting later elements up by one.
// index == len(list) appends.
func Insert[T Positioned](list []T, item T, index int) ([]T, error) {
	if index < 0 || index > len(list) {
		return list, fmt.Errorf("%w: insert index %d, list length %d", ErrInvalidIndex, index, len(list))
	}
	var zero T
	list = append(list, zero)
	copy(list[index+1:], list[index:len(list)-1])
	list[index] = item
	item.SetPos(index)
	renumber(list, index+1, len(list))
	return list, nil
}

// Remove deletes list[index], shifting later elements down by one. The
// removed element is returned with its pos unchanged.
func Remove[T Positioned](list []T, index int) ([]T, T, error) {
	var zero T
	if index < 0 || index >= len(list) {
		return list, zero, fmt.Errorf("%w: remove index %d, list length %d", ErrInvalidIndex, index, len(list))
	}
	removed := list[index]
	out := make([]T, 0, len(list)-1)
	out = append(out, list[:index]...)
	out = append(out, list[index+1:]...)
	renumber(out, index, len(out))
	return out, removed, nil
}

// Normalize rewrites pos = index for every element.
func Normalize[T Positioned](list []T) {
	renumber(list, 0, len(list))
}

// Contiguous reports whether the list's pos values are exactly 0..len-1 in
// slice order.
func Contiguous[T Positioned](list []T) bool {
	for i, item := range list {
		if item.Pos() != i {
			return false
		}
	}
	return true
}

// IndexOf returns the slice index of the first element matching fn, or -1.
func IndexOf[T any](list []T, fn func(T) bool) int {
	for i, item := range list {
		if fn(item) {
			return i
		}
	}
	return -1
}

func renumber[T Positioned](list []T, from, to int) {
	for i := from; i < to; i++ {
		list[i].SetPos(i)
	}
}
