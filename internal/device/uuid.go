package device

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to a comparable form: lowercase, no
// dashes, no 0x prefix. Full 128-bit UUIDs built on the Bluetooth SIG base
// collapse to their 16-bit short form, so "0000ffe0-0000-1000-8000-00805f9b34fb"
// and "FFE0" compare equal.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// SameUUID reports whether two UUID strings name the same attribute.
func SameUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}
