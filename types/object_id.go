package types

import (
	"fmt"
	"unsafe"
)

// ObjectID is a unique identifier for an object; it is used to refer to
// buffer headers and components in logs without printing their contents.
type ObjectID uint64

type GetObjectIDer interface {
	GetObjectID() ObjectID
}

func GetObjectID[T any](obj *T) ObjectID {
	if obj == nil {
		return ObjectID(0)
	}
	ptr := uintptr(unsafe.Pointer(obj))
	if uintptr(uint64(ptr)) != ptr {
		panic("pointer value does not fit into uint64")
	}
	return ObjectID(uint64(ptr))
}

func (id ObjectID) String() string {
	return fmt.Sprintf("0x%x", uint64(id))
}
