package workflow

import (
	"strings"

	"github.com/pkg/errors"
)

// Guard predicates restrict a step to a subset of cells, e.g.
//
//	if: startsWith(matrix.os, 'ubuntu')
//	if: matrix.python == '3.9' && matrix.os != 'windows-latest'
//
// Supported forms: matrix.<axis> lookups, single- or double-quoted string
// literals, ==, !=, startsWith(a, b), contains(a, b), and && conjunction.
// An empty guard is always true.

// EvalGuard evaluates a guard expression against a cell's axis values.
func EvalGuard(expr string, values map[string]string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	for _, clause := range strings.Split(expr, "&&") {
		ok, err := evalClause(strings.TrimSpace(clause), values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// CheckGuard validates a guard expression at parse time against the declared
// matrix axes, so a workflow with a bad guard fails validation instead of
// failing mid-run.
func CheckGuard(expr string, axes []string) error {
	values := make(map[string]string, len(axes))
	for _, name := range axes {
		values[name] = ""
	}
	_, err := EvalGuard(expr, values)
	return err
}

func evalClause(clause string, values map[string]string) (bool, error) {
	if clause == "" {
		return false, errors.New("empty guard clause")
	}

	if fn, args, ok := splitCall(clause); ok {
		a, err := resolveOperand(args[0], values)
		if err != nil {
			return false, err
		}
		b, err := resolveOperand(args[1], values)
		if err != nil {
			return false, err
		}

		switch fn {
		case "startsWith":
			return strings.HasPrefix(a, b), nil
		case "contains":
			return strings.Contains(a, b), nil
		default:
			return false, errors.Errorf("unknown guard function %q", fn)
		}
	}

	if lhs, rhs, ok := strings.Cut(clause, "!="); ok {
		a, b, err := resolvePair(lhs, rhs, values)
		if err != nil {
			return false, err
		}
		return a != b, nil
	}

	if lhs, rhs, ok := strings.Cut(clause, "=="); ok {
		a, b, err := resolvePair(lhs, rhs, values)
		if err != nil {
			return false, err
		}
		return a == b, nil
	}

	return false, errors.Errorf("unsupported guard clause %q", clause)
}

// splitCall parses "fn(arg1, arg2)" clauses. Returns ok=false for anything
// that does not look like a two-argument call.
func splitCall(clause string) (fn string, args [2]string, ok bool) {
	open := strings.Index(clause, "(")
	if open <= 0 || !strings.HasSuffix(clause, ")") {
		return "", args, false
	}

	fn = strings.TrimSpace(clause[:open])
	inner := clause[open+1 : len(clause)-1]

	first, second, found := strings.Cut(inner, ",")
	if !found || strings.Contains(second, ",") {
		return "", args, false
	}

	args[0] = strings.TrimSpace(first)
	args[1] = strings.TrimSpace(second)
	return fn, args, true
}

func resolvePair(lhs, rhs string, values map[string]string) (string, string, error) {
	a, err := resolveOperand(strings.TrimSpace(lhs), values)
	if err != nil {
		return "", "", err
	}
	b, err := resolveOperand(strings.TrimSpace(rhs), values)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

// resolveOperand turns an operand into a string value: quoted literals are
// unquoted, matrix.<axis> references are looked up in the cell.
func resolveOperand(op string, values map[string]string) (string, error) {
	if len(op) >= 2 {
		if (op[0] == '\'' && op[len(op)-1] == '\'') || (op[0] == '"' && op[len(op)-1] == '"') {
			return op[1 : len(op)-1], nil
		}
	}

	if name, ok := strings.CutPrefix(op, "matrix."); ok {
		v, known := values[name]
		if !known {
			return "", errors.Errorf("unknown matrix axis %q", name)
		}
		return v, nil
	}

	return "", errors.Errorf("unsupported guard operand %q", op)
}
