package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// resetViper clears viper config between tests for isolation
func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("GRIDPLANE")
	viper.AutomaticEnv()
}

// writeWorkflow drops a workflow document into a temp dir and returns its path.
func writeWorkflow(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ci.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write workflow: %v", err)
	}
	return path
}

const echoWorkflow = `name: local
on:
  push:
    branches: [main]
jobs:
  build:
    strategy:
      fail-fast: false
      matrix:
        os: [ubuntu-latest, windows-latest]
    steps:
      - name: Greet
        run: echo hello from ${{ matrix.os }}
      - name: Linux only
        if: startsWith(matrix.os, 'ubuntu')
        run: echo linux step
`

func TestRunCommand_Success(t *testing.T) {
	resetViper()

	path := writeWorkflow(t, echoWorkflow)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", path, "--event", "push", "--branch", "main", "--workdir", t.TempDir()})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "build (ubuntu-latest)") {
		t.Errorf("expected ubuntu cell in output, got: %s", output)
	}
	if !strings.Contains(output, "build (windows-latest)") {
		t.Errorf("expected windows cell in output, got: %s", output)
	}
	if !strings.Contains(output, "hello from ubuntu-latest") {
		t.Errorf("expected step output, got: %s", output)
	}
	if !strings.Contains(output, "run succeeded") {
		t.Errorf("expected success message, got: %s", output)
	}
}

func TestRunCommand_FailingStepFailsRun(t *testing.T) {
	resetViper()

	doc := `name: local
on:
  push:
    branches: [main]
jobs:
  build:
    strategy:
      fail-fast: false
      matrix:
        os: [ubuntu-latest]
    steps:
      - name: Break
        run: exit 3
      - name: Never reached
        run: echo unreachable
`
	path := writeWorkflow(t, doc)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", path, "--event", "push", "--branch", "main", "--workdir", t.TempDir()})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for failing run")
	}

	output := stdout.String()
	if !strings.Contains(output, "failed step: Break (exit code 3)") {
		t.Errorf("expected failing step detail, got: %s", output)
	}
	if strings.Contains(output, "unreachable") {
		t.Errorf("steps after a failure should not run, got: %s", output)
	}
}

func TestRunCommand_SiblingCellsRunToCompletion(t *testing.T) {
	resetViper()

	doc := `name: local
on:
  push:
    branches: [main]
jobs:
  build:
    strategy:
      fail-fast: false
      matrix:
        os: [ubuntu-latest, windows-latest]
    steps:
      - name: Maybe break
        if: startsWith(matrix.os, 'ubuntu')
        run: exit 1
      - name: Survivor
        run: echo survived on ${{ matrix.os }}
`
	path := writeWorkflow(t, doc)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", path, "--event", "push", "--branch", "main", "--workdir", t.TempDir()})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error: the ubuntu cell fails")
	}

	output := stdout.String()
	if !strings.Contains(output, "survived on windows-latest") {
		t.Errorf("expected the windows cell to run to completion, got: %s", output)
	}
}

func TestRunCommand_QuietSuppressesStepOutput(t *testing.T) {
	resetViper()

	path := writeWorkflow(t, echoWorkflow)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", path, "--event", "push", "--branch", "main", "--workdir", t.TempDir(), "--quiet"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if strings.Contains(output, "hello from ubuntu-latest") {
		t.Errorf("expected step output suppressed, got: %s", output)
	}
	if !strings.Contains(output, "run succeeded") {
		t.Errorf("expected success message, got: %s", output)
	}

	// Reset the sticky bool flag for later tests.
	rootCmd.SetArgs(nil)
	runCmd.Flags().Set("quiet", "false")
}

func TestRunCommand_NotTriggered(t *testing.T) {
	resetViper()

	path := writeWorkflow(t, echoWorkflow)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", path, "--event", "push", "--branch", "feature/x", "--workdir", t.TempDir()})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "nothing to run") {
		t.Errorf("expected not-triggered message, got: %s", stdout.String())
	}
}

func TestRunCommand_UnknownEvent(t *testing.T) {
	resetViper()

	path := writeWorkflow(t, echoWorkflow)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", path, "--event", "cron"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown event kind")
	}
	if !strings.Contains(err.Error(), "unknown event") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunCommand_MissingFile(t *testing.T) {
	resetViper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"run", "/does/not/exist.yaml", "--event", "push"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing workflow file")
	}
}
