package protocol

// halfWindow is half the 16-bit sequence space. Distances up to halfWindow
// count as "ahead", anything further wraps around to "behind".
const halfWindow = 32768

// IsSequenceNewer reports whether s1 is newer than s2 under 16-bit
// wraparound. Antisymmetric for s1 != s2: at most one direction is newer.
func IsSequenceNewer(s1, s2 uint16) bool {
	return (s1 > s2 && s1-s2 <= halfWindow) ||
		(s1 < s2 && s2-s1 > halfWindow)
}
