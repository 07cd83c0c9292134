package device

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	maxNameLength     = 100
	maxSwitchIDLength = 32
	maxPin            = 255
)

// switchIDPattern keeps IDs usable as bus relay names: no ':' or ','.
var switchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NormaliseMAC returns the lower-case colon-separated form of a hardware
// address. Dashes, dots and bare 12-digit hex are accepted.
func NormaliseMAC(mac string) (string, error) {
	s := strings.TrimSpace(mac)
	if len(s) == 12 && !strings.ContainsAny(s, ":-.") {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(s[i : i+2])
		}
		s = b.String()
	}

	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	return hw.String(), nil
}

// IDForMAC derives the stable device ID from a normalised MAC.
//
//	IDForMAC("a4:cf:12:0b:88:01") == "relay-a4cf120b8801"
func IDForMAC(mac string) string {
	return "relay-" + strings.ReplaceAll(mac, ":", "")
}

// ValidateSwitches checks a switch definition list for unique IDs and pins.
func ValidateSwitches(defs []SwitchDefinition) error {
	ids := make(map[string]bool, len(defs))
	pins := make(map[int]string, len(defs))

	for _, def := range defs {
		if def.ID == "" || len(def.ID) > maxSwitchIDLength || !switchIDPattern.MatchString(def.ID) {
			return fmt.Errorf("%w: id %q", ErrInvalidSwitch, def.ID)
		}
		if ids[def.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidSwitch, def.ID)
		}
		ids[def.ID] = true

		if len(def.Name) > maxNameLength {
			return fmt.Errorf("%w: name too long for %q", ErrInvalidSwitch, def.ID)
		}

		switch def.ManualMode {
		case "", ManualModeMaintained, ManualModeMomentary:
		default:
			return fmt.Errorf("%w: manual mode %q", ErrInvalidSwitch, def.ManualMode)
		}

		if err := claimPin(pins, def.OutputPin, def.ID); err != nil {
			return err
		}
		if def.ManualPin != nil {
			if err := claimPin(pins, *def.ManualPin, def.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func claimPin(pins map[int]string, pin int, owner string) error {
	if pin < 0 || pin > maxPin {
		return fmt.Errorf("%w: pin %d out of range on %q", ErrInvalidSwitch, pin, owner)
	}
	if other, taken := pins[pin]; taken {
		return fmt.Errorf("%w: pin %d used by %q and %q", ErrInvalidSwitch, pin, other, owner)
	}
	pins[pin] = owner
	return nil
}

// mergeSwitches applies new definitions to existing switches, keeping state
// and sequence of switches whose ID survives.
func mergeSwitches(existing []Switch, defs []SwitchDefinition) []Switch {
	byID := make(map[string]Switch, len(existing))
	for _, sw := range existing {
		byID[sw.ID] = sw
	}

	out := make([]Switch, 0, len(defs))
	for _, def := range defs {
		sw := byID[def.ID]
		sw.ID = def.ID
		sw.Name = def.Name
		sw.OutputPin = def.OutputPin
		sw.ManualPin = def.ManualPin
		sw.ManualMode = def.ManualMode
		if sw.ManualMode == "" {
			sw.ManualMode = ManualModeMaintained
		}
		out = append(out, sw)
	}
	return out
}
