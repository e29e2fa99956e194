package partition

import "fmt"

// TypeNotFoundError no slot of a partition table carried the requested type
type TypeNotFoundError struct {
	Type     uint32
	Base     int64
	Searched uint32
}

func (e *TypeNotFoundError) Error() string {
	return fmt.Sprintf("partition type %d not found in %d slots of table at %#x", e.Type, e.Searched, e.Base)
}

// NewTypeNotFoundError reports that none of the searched slots of the table at base
// carried partitionType
func NewTypeNotFoundError(partitionType uint32, base int64, searched uint32) error {
	return &TypeNotFoundError{
		Type:     partitionType,
		Base:     base,
		Searched: searched,
	}
}
