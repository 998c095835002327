//go:build !linux

package output

// I2CDev is unavailable off Linux.
type I2CDev struct{}

// OpenI2C always fails off Linux.
func OpenI2C(bus int) (*I2CDev, error) {
	return nil, ErrUnsupported
}

// Tx always fails off Linux.
func (d *I2CDev) Tx(addr uint16, w, r []byte) error { return ErrUnsupported }

// ReadRegister always fails off Linux.
func (d *I2CDev) ReadRegister(addr uint8, reg uint8, buf []byte) error { return ErrUnsupported }

// WriteRegister always fails off Linux.
func (d *I2CDev) WriteRegister(addr uint8, reg uint8, buf []byte) error { return ErrUnsupported }

// Close is a no-op.
func (d *I2CDev) Close() error { return nil }
