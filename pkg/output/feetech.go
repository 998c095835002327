package output

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
)

// Feetech STS position scale.
const (
	feetechTicks      = 4096
	feetechCenter     = 2048
	feetechCenterUS   = 1500
	feetechTicksPerUS = 2.048 // 1000us spans 180 degrees

	// DefaultFeetechBaud is the factory baud rate of STS servos.
	DefaultFeetechBaud = 1_000_000

	feetechTimeout = 20 * time.Millisecond
)

// positionGroup is the subset of *feetech.ServoGroup used by Feetech.
type positionGroup interface {
	SetPositions(ctx context.Context, positions feetech.PositionMap) error
	DisableAll(ctx context.Context) error
}

// Feetech drives serial bus servos. Each pulse is converted to an STS
// position so calibration behaves the same as on PWM servos. The bus servos
// have no light outputs; brightness and color are ignored.
type Feetech struct {
	bus   *feetech.Bus
	group positionGroup
	ids   [calibration.NumChannels]int
}

// OpenFeetech opens the servo bus on port and enables torque on ids.
func OpenFeetech(ctx context.Context, port string, baud int, ids [calibration.NumChannels]int) (*Feetech, error) {
	if baud == 0 {
		baud = DefaultFeetechBaud
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open feetech bus: %w", err)
	}

	group := feetech.NewServoGroupByIDs(bus, ids[:]...)
	if err := group.EnableAll(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("enable servos: %w", err), bus.Close())
	}

	return &Feetech{bus: bus, group: group, ids: ids}, nil
}

// PulseToPosition converts a pulse width to an STS position.
func PulseToPosition(us int) int {
	pos := int(math.Round(feetechCenter + float64(us-feetechCenterUS)*feetechTicksPerUS))
	if pos < 0 {
		return 0
	}
	if pos > feetechTicks-1 {
		return feetechTicks - 1
	}
	return pos
}

// Apply sync-writes every servo position.
func (s *Feetech) Apply(f Frame) error {
	positions := make(feetech.PositionMap, len(s.ids))
	for i, id := range s.ids {
		positions[id] = PulseToPosition(f.Pulses[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), feetechTimeout)
	defer cancel()

	if err := s.group.SetPositions(ctx, positions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// SetFrequency is a no-op; bus servos have no PWM period.
func (s *Feetech) SetFrequency(hz float64) error {
	return nil
}

// Close disables torque and closes the bus.
func (s *Feetech) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.group.DisableAll(ctx)
	if s.bus != nil {
		err = multierr.Append(err, s.bus.Close())
	}
	return err
}
