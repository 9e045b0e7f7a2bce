//go:build !windows

package spectro

import "errors"

// ErrNoDLL is returned by NewDLLVendor where the vendor library cannot load
var ErrNoDLL = errors.New("spectro: the vendor library is only available on windows")

// DLLVendor is unavailable on this platform
type DLLVendor struct{}

// NewDLLVendor always fails on this platform
func NewDLLVendor(path string) (*DLLVendor, error) {
	return nil, ErrNoDLL
}

// Initialize always fails
func (d *DLLVendor) Initialize() error { return ErrNoDLL }

// ReadSettings always fails
func (d *DLLVendor) ReadSettings() ([]byte, error) { return nil, ErrNoDLL }

// Finalize always fails
func (d *DLLVendor) Finalize() error { return ErrNoDLL }
