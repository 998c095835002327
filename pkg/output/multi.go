package output

import "go.uber.org/multierr"

// Multi fans every call out to several sinks. A failing sink does not stop
// the others from being written.
type Multi []Sink

// Apply writes f to every sink.
func (m Multi) Apply(f Frame) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Apply(f))
	}
	return err
}

// SetFrequency sets hz on every sink.
func (m Multi) SetFrequency(hz float64) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.SetFrequency(hz))
	}
	return err
}

// Close closes every sink.
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
