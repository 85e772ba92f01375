package identifiers

// DeviceKind is the Kind of Matrix device identifiers. Device IDs are
// completely opaque; any text satisfying the base predicate is accepted.
type DeviceKind struct{}

func (DeviceKind) Name() string { return "device ID" }

func (DeviceKind) Validate(string) error { return nil }

func (DeviceKind) generatable() {}

// DeviceID identifies one device of a user.
type DeviceID = ID[DeviceKind]

// deviceIDLength is the length of generated device IDs.
const deviceIDLength = 8

// ParseDeviceID validates s as a device ID.
func ParseDeviceID(s string) (DeviceID, error) {
	return Parse[DeviceKind](s)
}

// NewDeviceID generates a random device ID suitable for a new device.
func NewDeviceID() DeviceID {
	return GenerateRandom[DeviceKind](deviceIDLength)
}
