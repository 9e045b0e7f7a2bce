//go:build windows

package spectro

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// settingsBufSize is the size of the buffer handed to SP_DataRead
const settingsBufSize = 4096

// DLLVendor calls SpectroChipsControl.dll
type DLLVendor struct {
	dll                          *windows.LazyDLL
	initialize, finalize, dataRd *windows.LazyProc
}

// NewDLLVendor loads the library at path and resolves its entry points
func NewDLLVendor(path string) (*DLLVendor, error) {
	dll := windows.NewLazyDLL(path)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("spectro: loading %s: %w", path, err)
	}
	d := &DLLVendor{
		dll:        dll,
		initialize: dll.NewProc("SP_Initialize"),
		finalize:   dll.NewProc("SP_Finalize"),
		dataRd:     dll.NewProc("SP_DataRead"),
	}
	for _, p := range []*windows.LazyProc{d.initialize, d.finalize, d.dataRd} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("spectro: %s: %w", path, err)
		}
	}
	return d, nil
}

// Initialize calls SP_Initialize(NULL)
func (d *DLLVendor) Initialize() error {
	r, _, _ := d.initialize.Call(0)
	if uint32(r) != 0 {
		return fmt.Errorf("SP_Initialize returned %d", uint32(r))
	}
	return nil
}

// ReadSettings calls SP_DataRead into a 4 KiB buffer
func (d *DLLVendor) ReadSettings() ([]byte, error) {
	buf := make([]byte, settingsBufSize)
	n := int32(len(buf))
	r, _, _ := d.dataRd.Call(uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&n)))
	if int32(r) != 0 {
		return nil, fmt.Errorf("SP_DataRead returned %d", int32(r))
	}
	if n < 0 || int(n) > len(buf) {
		return nil, fmt.Errorf("SP_DataRead reported length %d", n)
	}
	return buf[:n], nil
}

// Finalize calls SP_Finalize(NULL)
func (d *DLLVendor) Finalize() error {
	r, _, _ := d.finalize.Call(0)
	if uint32(r) != 0 {
		return fmt.Errorf("SP_Finalize returned %d", uint32(r))
	}
	return nil
}
