package visibility

import (
	"fmt"
)

// Level is how much of a slot's display tile is currently in view.
type Level int

const (
	None Level = iota
	Partial
	Full
)

func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return None, nil
	case "partial":
		return Partial, nil
	case "full":
		return Full, nil
	default:
		return None, fmt.Errorf("unknown visibility level %q", s)
	}
}

func (l Level) MarshalText() ([]byte, error) {
	if l < None || l > Full {
		return nil, fmt.Errorf("unknown visibility level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
