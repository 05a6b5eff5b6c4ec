package vam

import (
	"math"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// TypedAlloc is a mapped BufferAlloc holding a fixed number of values of type T. T must be a plain value
// type: pointers, slices, maps, strings, interfaces, channels and funcs cannot live in GPU memory.
type TypedAlloc[T any] struct {
	*BufferAlloc
	count int
}

// Len returns the number of T values the allocation holds
func (a *TypedAlloc[T]) Len() int {
	return a.count
}

// Slice returns the allocation's mapped memory as a slice of T. The slice is only valid until the
// allocation is freed or, for frame allocations, until the frame is cleared.
func (a *TypedAlloc[T]) Slice() ([]T, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if a.count > len(data)/elemSize {
		return nil, errors.Newf("%d values of %d bytes do not fit in a %d byte allocation", a.count, elemSize, len(data))
	}

	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), a.count), nil
}

// Value returns a pointer to the first value in the allocation
func (a *TypedAlloc[T]) Value() (*T, error) {
	values, err := a.Slice()
	if err != nil {
		return nil, err
	}

	return &values[0], nil
}

func containsPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Slice, reflect.Map, reflect.String,
		reflect.Interface, reflect.Chan, reflect.Func:
		return true
	case reflect.Array:
		return containsPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if containsPointers(t.Field(i).Type) {
				return true
			}
		}
	}

	return false
}

func plainLayout[T any]() (size int, alignment uint, err error) {
	var zero T
	t := reflect.TypeOf(&zero).Elem()

	if containsPointers(t) {
		return 0, 0, errors.Newf("type %s contains pointers and cannot be stored in buffer memory", t)
	}

	size = int(unsafe.Sizeof(zero))
	if size == 0 {
		return 0, 0, errors.Wrapf(ErrInvalidSize, "type %s has no size", t)
	}

	return size, uint(unsafe.Alignof(zero)), nil
}

// BoxUninit allocates mapped memory for count values of type T without writing to it. The offset is aligned
// to both the binding's requirement and T's alignment.
func BoxUninit[T any](heap *BufferHeap, binding Binding, lifetime Lifetime, count int) (*TypedAlloc[T], error) {
	if count <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d values", count)
	}

	elemSize, alignment, err := plainLayout[T]()
	if err != nil {
		return nil, err
	}

	if count > math.MaxInt/elemSize {
		return nil, errors.Wrapf(ErrResourceLimitExceeded, "%d values of %d bytes cannot be addressed", count, elemSize)
	}

	pool, err := heap.Pool(binding, lifetime, MemoryMapped)
	if err != nil {
		return nil, err
	}

	alloc, err := pool.allocAligned(count*elemSize, alignment)
	if err != nil {
		return nil, err
	}

	return &TypedAlloc[T]{BufferAlloc: alloc, count: count}, nil
}

// BoxIter allocates mapped memory for count values of type T and fills it with next(0) through next(count-1)
func BoxIter[T any](heap *BufferHeap, binding Binding, lifetime Lifetime, count int, next func(index int) T) (*TypedAlloc[T], error) {
	alloc, err := BoxUninit[T](heap, binding, lifetime, count)
	if err != nil {
		return nil, err
	}

	values, err := alloc.Slice()
	if err != nil {
		alloc.Free()
		return nil, err
	}

	for i := range values {
		values[i] = next(i)
	}

	return alloc, nil
}

// BoxSlice allocates mapped memory and copies values into it
func BoxSlice[T any](heap *BufferHeap, binding Binding, lifetime Lifetime, values []T) (*TypedAlloc[T], error) {
	return BoxIter[T](heap, binding, lifetime, len(values), func(index int) T {
		return values[index]
	})
}

// Box allocates mapped memory and writes value into it
func Box[T any](heap *BufferHeap, binding Binding, lifetime Lifetime, value T) (*TypedAlloc[T], error) {
	return BoxIter[T](heap, binding, lifetime, 1, func(int) T {
		return value
	})
}
