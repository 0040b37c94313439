package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// AppleCompanyID is the Bluetooth SIG company identifier under which iBeacons are advertised.
	AppleCompanyID uint16 = 0x004C

	iBeaconType       = 0x02
	iBeaconDataLength = 0x15

	// tiltDataLength is the length of the manufacturer specific data, excluding the company
	// identifier: type, length, 16 byte UUID, major, minor and tx power.
	tiltDataLength = 23

	tiltUUIDSuffix = "C5B14B44B5121370F02D74DE"
)

// UnknownColor is reported by Color for UUIDs that do not belong to a Tilt.
const UnknownColor = "Unknown Color"

var tiltColors = map[string]string{
	"A495BB10" + tiltUUIDSuffix: "Red",
	"A495BB20" + tiltUUIDSuffix: "Green",
	"A495BB30" + tiltUUIDSuffix: "Black",
	"A495BB40" + tiltUUIDSuffix: "Purple",
	"A495BB50" + tiltUUIDSuffix: "Orange",
	"A495BB60" + tiltUUIDSuffix: "Blue",
	"A495BB70" + tiltUUIDSuffix: "Yellow",
	"A495BB80" + tiltUUIDSuffix: "Pink",
}

// Color returns the colour name a Tilt broadcasts as its device identifier.
func Color(uuid string) string {
	if color, ok := tiltColors[normalizeUUID(uuid)]; ok {
		return color
	}
	return UnknownColor
}

// ColorUUID returns the iBeacon UUID of the Tilt with the given colour.
func ColorUUID(color string) (string, bool) {
	for uuid, c := range tiltColors {
		if strings.EqualFold(c, color) {
			return uuid, true
		}
	}
	return "", false
}

// IsTiltUUID returns true if uuid identifies one of the Tilt colours.
func IsTiltUUID(uuid string) bool {
	_, ok := tiltColors[normalizeUUID(uuid)]
	return ok
}

func normalizeUUID(uuid string) string {
	return strings.ToUpper(strings.ReplaceAll(uuid, "-", ""))
}

// Advertisement holds the fields a Tilt encodes in its iBeacon payload.
type Advertisement struct {
	UUID        string  // 32 upper-case hex digits, no dashes
	Color       string  // Device identifier, e.g. "Red"
	Temperature float64 // Degrees Fahrenheit, carried in the iBeacon major field
	Gravity     float64 // Specific gravity, carried in the minor field in thousandths
	TxPower     int8
	RawData     []byte // Manufacturer data without the company identifier
}

// SplitManufacturerData separates the little-endian company identifier from raw manufacturer
// specific data as it appears in an advertising structure.
func SplitManufacturerData(raw []byte) (companyID uint16, data []byte, ok bool) {
	if len(raw) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(raw), raw[2:], true
}

// ParseIBeacon decodes manufacturer data published under companyID. The returned
// Advertisement's Color is UnknownColor if the UUID does not belong to a Tilt.
func ParseIBeacon(companyID uint16, data []byte) (*Advertisement, error) {
	if companyID != AppleCompanyID {
		return nil, ErrNotIBeacon
	}
	if len(data) < tiltDataLength {
		return nil, fmt.Errorf("%w: %d bytes of manufacturer data", ErrNotIBeacon, len(data))
	}
	if data[0] != iBeaconType || data[1] != iBeaconDataLength {
		return nil, fmt.Errorf("%w: type %#02x length %#02x", ErrNotIBeacon, data[0], data[1])
	}
	uuid := strings.ToUpper(hex.EncodeToString(data[2:18]))
	major := int16(binary.BigEndian.Uint16(data[18:20]))
	minor := int16(binary.BigEndian.Uint16(data[20:22]))

	raw := make([]byte, len(data))
	copy(raw, data)
	return &Advertisement{
		UUID:        uuid,
		Color:       Color(uuid),
		Temperature: float64(major),
		Gravity:     float64(minor) / 1000.0,
		TxPower:     int8(data[22]),
		RawData:     raw,
	}, nil
}

// ParseTilt is like ParseIBeacon but rejects beacons that are not Tilt hydrometers with
// ErrNotTilt.
func ParseTilt(companyID uint16, data []byte) (*Advertisement, error) {
	adv, err := ParseIBeacon(companyID, data)
	if err != nil {
		return nil, err
	}
	if adv.Color == UnknownColor {
		return nil, ErrNotTilt
	}
	return adv, nil
}

// EncodeTilt builds the manufacturer data (without company identifier) a Tilt of the given
// colour would broadcast. It is used by simulators and tests.
func EncodeTilt(color string, temperature int16, gravityThousandths int16, txPower int8) ([]byte, error) {
	uuid, ok := ColorUUID(color)
	if !ok {
		return nil, fmt.Errorf("unknown Tilt colour '%s'", color)
	}
	uuidBytes, err := hex.DecodeString(uuid)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, tiltDataLength)
	data = append(data, iBeaconType, iBeaconDataLength)
	data = append(data, uuidBytes...)
	data = binary.BigEndian.AppendUint16(data, uint16(temperature))
	data = binary.BigEndian.AppendUint16(data, uint16(gravityThousandths))
	data = append(data, byte(txPower))
	return data, nil
}
