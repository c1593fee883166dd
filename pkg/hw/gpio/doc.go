// Package gpio counts tachometer pulses from a GPIO line using the Linux
// character device interface (gpiod). On other platforms Start reports
// ErrUnsupported so the daemon can fall back to another backend.
package gpio

// Config selects the chip and line the tachometer output is wired to
type Config struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}
