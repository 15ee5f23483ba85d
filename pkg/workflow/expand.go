package workflow

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var exprRef = regexp.MustCompile(`\$\{\{\s*([^}]+?)\s*\}\}`)

// Expand substitutes ${{ matrix.<axis> }} references in a command or env
// value with the cell's axis values. Unknown references are an error so a
// typo fails the workflow at validation time, not silently at run time.
func Expand(s string, values map[string]string) (string, error) {
	var badRef error
	out := exprRef.ReplaceAllStringFunc(s, func(match string) string {
		ref := strings.TrimSpace(exprRef.FindStringSubmatch(match)[1])

		name, ok := strings.CutPrefix(ref, "matrix.")
		if !ok {
			badRef = errors.Errorf("unsupported expression %q", ref)
			return match
		}

		v, known := values[name]
		if !known {
			badRef = errors.Errorf("unknown matrix axis %q", name)
			return match
		}
		return v
	})

	if badRef != nil {
		return "", badRef
	}
	return out, nil
}

// checkExpansions validates every ${{ }} reference in a string against the
// declared axes without producing output.
func checkExpansions(s string, axes []string) error {
	values := make(map[string]string, len(axes))
	for _, name := range axes {
		values[name] = ""
	}
	_, err := Expand(s, values)
	return err
}
