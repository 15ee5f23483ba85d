package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalGuard(t *testing.T) {
	ubuntu := map[string]string{"os": "ubuntu-latest", "python": "3.8"}
	windows := map[string]string{"os": "windows-latest", "python": "3.9"}

	tests := []struct {
		name   string
		expr   string
		values map[string]string
		want   bool
	}{
		{"empty guard is true", "", ubuntu, true},
		{"startsWith matches ubuntu", "startsWith(matrix.os, 'ubuntu')", ubuntu, true},
		{"startsWith rejects windows", "startsWith(matrix.os, 'ubuntu')", windows, false},
		{"equality", "matrix.python == '3.8'", ubuntu, true},
		{"equality mismatch", "matrix.python == '3.8'", windows, false},
		{"inequality", "matrix.os != 'windows-latest'", ubuntu, true},
		{"contains", "contains(matrix.os, 'latest')", windows, true},
		{"conjunction both true", "startsWith(matrix.os, 'ubuntu') && matrix.python == '3.8'", ubuntu, true},
		{"conjunction one false", "startsWith(matrix.os, 'ubuntu') && matrix.python == '3.9'", ubuntu, false},
		{"double quotes", `matrix.os == "ubuntu-latest"`, ubuntu, true},
		{"literal vs literal", "'a' == 'a'", ubuntu, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalGuard(tt.expr, tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalGuardErrors(t *testing.T) {
	values := map[string]string{"os": "ubuntu-latest"}

	tests := []struct {
		name string
		expr string
	}{
		{"unknown axis", "matrix.arch == 'arm64'"},
		{"unknown function", "endsWith(matrix.os, 'latest')"},
		{"bare word operand", "os == 'ubuntu'"},
		{"no operator", "matrix.os"},
		{"empty conjunction clause", "matrix.os == 'x' && "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvalGuard(tt.expr, values)
			require.Error(t, err)
		})
	}
}

func TestCheckGuard(t *testing.T) {
	axes := []string{"os", "python"}
	assert.NoError(t, CheckGuard("startsWith(matrix.os, 'ubuntu')", axes))
	assert.Error(t, CheckGuard("startsWith(matrix.arch, 'arm')", axes))
}

func TestExpand(t *testing.T) {
	values := map[string]string{"os": "ubuntu-latest", "python": "3.9"}

	out, err := Expand("pyenv install -s ${{ matrix.python }}", values)
	require.NoError(t, err)
	assert.Equal(t, "pyenv install -s 3.9", out)

	out, err = Expand("${{matrix.os}}/${{ matrix.python }}", values)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu-latest/3.9", out)

	_, err = Expand("echo ${{ matrix.arch }}", values)
	require.Error(t, err)

	_, err = Expand("echo ${{ secrets.TOKEN }}", values)
	require.Error(t, err)

	out, err = Expand("plain command", values)
	require.NoError(t, err)
	assert.Equal(t, "plain command", out)
}
