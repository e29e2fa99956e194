package image

import "fmt"

// LoadError an image could not be loaded. Err is the most specific failure: the
// direct decode error when no fallback was tried, otherwise the failure of partition
// resolution or of the decode at the resolved base.
type LoadError struct {
	Offset int64
	// Direct is the decode error at Offset when the load fell back to partition resolution
	Direct error
	// Base is the resolved base when resolution succeeded
	Base int64
	Err  error
}

func (e *LoadError) Error() string {
	switch {
	case e.Direct == nil:
		return fmt.Sprintf("could not load image at offset %#x: %v", e.Offset, e.Err)
	case e.Base != 0:
		return fmt.Sprintf("could not load image at offset %#x (%v), nor at resolved base %#x: %v", e.Offset, e.Direct, e.Base, e.Err)
	default:
		return fmt.Sprintf("could not load image at offset %#x (%v): %v", e.Offset, e.Direct, e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
