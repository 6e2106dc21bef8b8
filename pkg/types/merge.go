package types

// Merge applies patch to base as a recursive deep merge and returns the
// result. Keys present in patch overwrite base; keys absent from patch
// are preserved; nested maps are merged recursively rather than
// replaced. Lists and scalars always replace wholesale. Neither input
// is mutated.
func Merge(base, patch map[string]any) map[string]any {
	out := CloneValue(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, pv := range patch {
		pm, pok := pv.(map[string]any)
		bm, bok := out[k].(map[string]any)
		if pok && bok {
			out[k] = Merge(bm, pm)
			continue
		}
		out[k] = cloneAny(pv)
	}
	return out
}
