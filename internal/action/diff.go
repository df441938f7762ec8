package action

import "sort"

// DiffResult partitions the union of desired and current natural keys.
// Each slice is sorted so execution order is reproducible.
type DiffResult struct {
	ToCreate []string
	ToRemove []string
	ToUpdate []string
}

// Diff computes ToCreate = D−C, ToRemove = C−D and ToUpdate = D∩C.
// Duplicate keys in either input are collapsed.
func Diff(desired, current []string) DiffResult {
	d := toSet(desired)
	c := toSet(current)

	var res DiffResult
	for k := range d {
		if c[k] {
			res.ToUpdate = append(res.ToUpdate, k)
		} else {
			res.ToCreate = append(res.ToCreate, k)
		}
	}
	for k := range c {
		if !d[k] {
			res.ToRemove = append(res.ToRemove, k)
		}
	}
	sort.Strings(res.ToCreate)
	sort.Strings(res.ToRemove)
	sort.Strings(res.ToUpdate)
	return res
}

// Converged reports whether nothing needs creating or removing.
func (d DiffResult) Converged() bool {
	return len(d.ToCreate) == 0 && len(d.ToRemove) == 0
}

func toSet(keys []string) map[string]bool {
	s := make(map[string]bool, len(keys))
	for _, k := range keys {
		s[k] = true
	}
	return s
}
