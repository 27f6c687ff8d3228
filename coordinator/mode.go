package coordinator

import (
	"go.dedis.ch/elector/types"
)

// Mode is the backend mode of the coordinator. It is chosen when the
// coordinator is created and never changes afterwards.
type Mode uint8

const (
	// ModeLive accepts reads and writes.
	ModeLive Mode = iota

	// ModeReadOnly refuses every write.
	ModeReadOnly
)

var modeNames = [...]string{
	ModeLive:     "live",
	ModeReadOnly: "read-only",
}

// ParseMode returns the mode matching the text.
func ParseMode(text string) (Mode, error) {
	for i, name := range modeNames {
		if name == text {
			return Mode(i), nil
		}
	}

	return 0, types.Validation("unknown backend mode '%s'", text)
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if int(m) >= len(modeNames) {
		return "unknown"
	}

	return modeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = mode

	return nil
}
