package entity

import "strconv"

// varSource yields the environment variables an entity exposes to
// triggered actions, merged over its ancestors'.
type varSource interface {
	Vars() map[string]string
}

// mergeVars flattens maps left to right; later maps win on key clashes.
func mergeVars(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
