package reactive

import (
	"math"
	"reflect"
)

// Same reports whether a and b are the identical value.
//
// Comparable values are compared with ==. Maps, slices, funcs and channels
// compare by reference (same backing storage, and for slices the same
// length), so two distinct maps with equal content are not Same. NaN is
// Same as NaN.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	switch va := a.(type) {
	case float64:
		vb := b.(float64)
		return va == vb || (math.IsNaN(va) && math.IsNaN(vb))
	case float32:
		vb := b.(float32)
		return va == vb || (va != va && vb != vb)
	}
	if ta.Comparable() {
		return safeEqual(a, b)
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ra.Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return ra.UnsafePointer() == rb.UnsafePointer()
	case reflect.Slice:
		return ra.UnsafePointer() == rb.UnsafePointer() && ra.Len() == rb.Len()
	}
	return false
}

// safeEqual compares comparable values; interface fields holding
// uncomparable dynamic values would panic on ==, so those are treated as
// different.
func safeEqual(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
