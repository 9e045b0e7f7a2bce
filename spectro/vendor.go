package spectro

import (
	"errors"
	"sync"
)

// Vendor is the capability set of the spectrometer's native driver
type Vendor interface {
	// Initialize opens a driver session
	Initialize() error

	// ReadSettings returns the raw device settings blob
	ReadSettings() ([]byte, error)

	// Finalize closes the driver session
	Finalize() error
}

// MockVendor is an in-memory Vendor for tests and mock runs
type MockVendor struct {
	mu sync.Mutex

	// Settings is returned by ReadSettings
	Settings []byte

	// InitErr, SettingsErr, and FinalizeErr are returned by the matching call
	InitErr, SettingsErr, FinalizeErr error

	// Initialized and Finalized count calls
	Initialized, Finalized int
}

// NewMockVendor returns a vendor whose settings carry a plausible
// calibration for a 1280 pixel sensor
func NewMockVendor() *MockVendor {
	return &MockVendor{Settings: []byte(
		"{\"roi_height\": 470, \"conversion_factor_0_a0\": 345.2, \"conversion_factor_0_a1\": 0.5791," +
			" \"conversion_factor_0_a2\": -1.2e-5, \"conversion_factor_0_a3\": 4.1e-10}\x00\x00\r\n")}
}

// Initialize counts the call
func (m *MockVendor) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Initialized++
	return m.InitErr
}

// ReadSettings returns Settings
func (m *MockVendor) ReadSettings() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SettingsErr != nil {
		return nil, m.SettingsErr
	}
	if m.Settings == nil {
		return nil, errors.New("mock vendor: no settings")
	}
	return m.Settings, nil
}

// Finalize counts the call
func (m *MockVendor) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finalized++
	return m.FinalizeErr
}
