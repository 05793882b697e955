package protocol

import "fmt"

// StateKind discriminates the DeviceState sum type (spec §3 "DeviceState").
type StateKind int

const (
	StateUnknown StateKind = iota
	StateSwitch
	StatePercentage
	StateVoltage
)

// DeviceState is the sum `Unknown | Switch(OnOff) | Percentage(0..=100) |
// Voltage(fixed u16.8)` described in spec §3. Only one of the payload
// fields is meaningful, selected by Kind.
type DeviceState struct {
	Kind       StateKind
	Switch     OnOff
	Percentage uint8
	Voltage    FixedU16_8
}

// UnknownState is the zero-value DeviceState.
var UnknownState = DeviceState{Kind: StateUnknown}

// SwitchState constructs a Switch(OnOff) state.
func SwitchState(v OnOff) DeviceState {
	return DeviceState{Kind: StateSwitch, Switch: v}
}

// PercentageState constructs a Percentage(0..=100) state, clamping out of
// range input rather than rejecting it (the gateway is the source of
// truth; a malformed percentage byte shouldn't crash the publisher).
func PercentageState(v uint8) DeviceState {
	if v > 100 {
		v = 100
	}
	return DeviceState{Kind: StatePercentage, Percentage: v}
}

// VoltageState constructs a Voltage(fixed u16.8) state.
func VoltageState(v FixedU16_8) DeviceState {
	return DeviceState{Kind: StateVoltage, Voltage: v}
}

// String renders one of the four documented printed forms (spec §3):
// "unknown", "on"/"off", "<n>%", "<v>V".
func (s DeviceState) String() string {
	switch s.Kind {
	case StateSwitch:
		return s.Switch.String()
	case StatePercentage:
		return fmt.Sprintf("%d%%", s.Percentage)
	case StateVoltage:
		return fmt.Sprintf("%.1fV", s.Voltage.Float64())
	default:
		return "unknown"
	}
}

// Equal reports whether two states are the same sum variant carrying the
// same value (used by the publisher's change-detection, spec §4.F / §8
// property 6).
func (s DeviceState) Equal(o DeviceState) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case StateSwitch:
		return s.Switch == o.Switch
	case StatePercentage:
		return s.Percentage == o.Percentage
	case StateVoltage:
		return s.Voltage == o.Voltage
	default:
		return true
	}
}
