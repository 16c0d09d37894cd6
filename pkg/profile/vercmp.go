package profile

import "strconv"

// VerCmp compares two dotted version strings component-wise as integers,
// padding the shorter side with "0" segments. It is a total order, stable
// under trailing-zero padding: VerCmp("1.2", "1.2.0") == 0 and
// VerCmp("1.10", "1.9") > 0, because segments compare numerically rather
// than lexicographically.
//
// golang.org/x/mod/semver enforces a leading "v" and a strict 2-3 segment
// grammar, which doesn't match bundle versions in the wild (arbitrary
// segment counts, no "v" prefix) — so this is hand-rolled against the
// stdlib rather than reaching for that package.
func VerCmp(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := segmentAt(as, i)
		bv := segmentAt(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	var out []int
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == '.' {
			seg := v[start:i]
			n, _ := strconv.Atoi(seg)
			out = append(out, n)
			start = i + 1
		}
	}
	return out
}

func segmentAt(segs []int, i int) int {
	if i < len(segs) {
		return segs[i]
	}
	return 0
}
