// Package rpmver implements RPM's version/release comparison algorithm:
// numeric fields compare numerically, textual fields compare lexically, and
// missing fields compare as equal to zero/empty. It is used by the repo
// merger (§4.6.5) to decide which of two same-(name,arch) packages wins
// under the NVR admission policy.
package rpmver

// Compare compares two EVR (epoch, version, release) triples the way RPM
// does: epoch first (numeric, missing treated as "0"), then version, then
// release, each via compareSegment. It returns -1, 0, or 1.
func Compare(epochA, verA, relA, epochB, verB, relB string) int {
	if c := compareSegment(orZero(epochA), orZero(epochB)); c != 0 {
		return c
	}
	if c := compareSegment(verA, verB); c != 0 {
		return c
	}
	return compareSegment(relA, relB)
}

func orZero(epoch string) string {
	if epoch == "" {
		return "0"
	}
	return epoch
}

// compareSegment implements rpmvercmp: the string is split into alternating
// runs of digits and non-digits (alnum vs separator characters are treated
// as boundaries); corresponding runs are compared numerically if both are
// digit runs, lexically otherwise. A numeric run always outranks a
// non-numeric run at the same position. Exhausting one string first makes
// it the lesser one, unless the remainder of the longer string is only
// separator characters.
func compareSegment(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		// skip non-alnum separators on both sides in lockstep
		for i < len(a) && !isAlnum(a[i]) {
			i++
		}
		for j < len(b) && !isAlnum(b[j]) {
			j++
		}
		if i >= len(a) || j >= len(b) {
			break
		}

		if isDigit(a[i]) && isDigit(b[j]) {
			aStart := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			bStart := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			if c := compareNumericRun(a[aStart:i], b[bStart:j]); c != 0 {
				return c
			}
			continue
		}
		if isDigit(a[i]) != isDigit(b[j]) {
			// digits outrank letters at the same position
			if isDigit(a[i]) {
				return 1
			}
			return -1
		}

		aStart := i
		for i < len(a) && isAlpha(a[i]) {
			i++
		}
		bStart := j
		for j < len(b) && isAlpha(b[j]) {
			j++
		}
		if c := compareLexical(a[aStart:i], b[bStart:j]); c != 0 {
			return c
		}
	}

	aRest := onlySeparators(a[i:])
	bRest := onlySeparators(b[j:])
	switch {
	case aRest && bRest:
		return 0
	case i >= len(a) && j >= len(b):
		return 0
	case i >= len(a):
		return -1
	case j >= len(b):
		return 1
	default:
		return 0
	}
}

func onlySeparators(s string) bool {
	for i := 0; i < len(s); i++ {
		if isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func compareNumericRun(a, b string) int {
	a = trimLeadingZeros(a)
	b = trimLeadingZeros(b)
	if len(a) != len(b) {
		if len(a) > len(b) {
			return 1
		}
		return -1
	}
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func trimLeadingZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}

func compareLexical(a, b string) int {
	switch {
	case a == b:
		return 0
	case a < b:
		return -1
	default:
		return 1
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }
