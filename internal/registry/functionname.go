package registry

import "fmt"

// functionNameDisplay covers the function name codes common enough to be
// worth a human-readable label out of the box; anything else gets a
// generic "Function N" placeholder rather than guessing at a name the
// corpus didn't actually confirm.
var functionNameDisplay = map[uint16]string{
	0:   "Unknown",
	3:   "Gas Water Heater",
	4:   "Electric Water Heater",
	5:   "Water Pump",
	7:   "Light",
	67:  "Fresh Tank",
	68:  "Grey Tank",
	69:  "Black Tank",
	70:  "Fuel Tank",
	549: "Awning",
	587: "Thermostat",
	656: "Battery",
	657: "Main Battery",
	658: "Aux Battery",
}

// DisplayName returns a human-readable label for a FunctionName code,
// appending the function_instance suffix the original firmware uses to
// disambiguate repeated functions (e.g. "Light 2").
func DisplayName(code uint16, instance uint8) string {
	name, ok := functionNameDisplay[code]
	if !ok {
		name = fmt.Sprintf("Function %d", code)
	}
	if instance > 0 {
		return fmt.Sprintf("%s %d", name, instance)
	}
	return name
}
