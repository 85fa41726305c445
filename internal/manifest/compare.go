package manifest

import "sort"

type key struct {
	id   string
	role Role
	size int64
}

func keys(m *Manifest) map[key]int {
	out := make(map[key]int)
	if m == nil {
		return out
	}
	for _, a := range m.Assets {
		out[key{a.ID, a.Role, a.Size}]++
	}
	return out
}

// SetEqual reports whether a and b list the same (id, role, size) triples,
// ignoring order. Duplicates count, so a duplicated asset is never equal to a
// single copy.
func SetEqual(a, b *Manifest) bool {
	ka, kb := keys(a), keys(b)
	if len(ka) != len(kb) {
		return false
	}
	for k, n := range ka {
		if kb[k] != n {
			return false
		}
	}
	return true
}

// Diff returns asset ids listed in want but absent from got, and ids listed in
// got that want does not have. An id present on both sides with a different
// role or size appears in both slices.
func Diff(want, got *Manifest) (missing, extra []string) {
	kw, kg := keys(want), keys(got)
	for k := range kw {
		if _, ok := kg[k]; !ok {
			missing = append(missing, k.id)
		}
	}
	for k := range kg {
		if _, ok := kw[k]; !ok {
			extra = append(extra, k.id)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
