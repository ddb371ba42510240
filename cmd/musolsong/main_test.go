package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const simulationConfig = `
simulation: true
logging:
  level: error
  format: text
  output: stderr
`

const testSequence = `
project_name: "cli-test"
project_number: 3
steps:
  - mode: calibration
    params:
      angle: 45
    devices: [polarimeter]
    timeout_seconds: 5
  - mode: observation
    params:
      alpha: 10
      beta: -20
      exposure: 0.5
    devices: [polarimeter, spectrograph]
    timeout_seconds: 5
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Setenv("MUSOLSONG_CONFIG", "")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !cfg.Simulation {
		t.Error("default config should enable simulation")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeFile(t, "config.yaml", simulationConfig)
	t.Setenv("MUSOLSONG_CONFIG", path)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %q, want %q", cfg.Logging.Level, "error")
	}
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config path")
	}
}

func TestRoot_RequiresSequenceFile(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error without --sequence-yaml")
	}
	if !strings.Contains(err.Error(), "--sequence-yaml") {
		t.Errorf("error should mention the flag, got: %v", err)
	}
}

func TestRoot_ValidateOnly_ValidSequence(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", simulationConfig)
	seqPath := writeFile(t, "sequence.yaml", testSequence)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"--config", cfgPath,
		"--sequence-yaml", seqPath,
		"--validate-only",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestRoot_ValidateOnly_InvalidSequence(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", simulationConfig)
	bad := strings.Replace(testSequence, "angle: 45", "angle: 999", 1)
	seqPath := writeFile(t, "sequence.yaml", bad)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"--config", cfgPath,
		"--sequence-yaml", seqPath,
		"--validate-only",
	})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRoot_SimulationRun(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", simulationConfig)
	seqPath := writeFile(t, "sequence.yaml", testSequence)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"--config", cfgPath,
		"--sequence-yaml", seqPath,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

// A sequence that steps from observation back into calibration is
// rejected by the default transition policy. Both CLI paths must agree
// on that verdict, since they share one validator.
func TestRoot_ValidateOnlyAndRunAgreeOnTransitions(t *testing.T) {
	const reversedSequence = `
project_name: "cli-test"
project_number: 3
steps:
  - mode: observation
    params:
      alpha: 10
      beta: -20
      exposure: 0.5
    devices: [polarimeter, spectrograph]
    timeout_seconds: 5
  - mode: calibration
    params:
      angle: 45
    devices: [polarimeter]
    timeout_seconds: 5
`
	cfgPath := writeFile(t, "config.yaml", simulationConfig)
	seqPath := writeFile(t, "sequence.yaml", reversedSequence)

	for _, args := range [][]string{
		{"--config", cfgPath, "--sequence-yaml", seqPath, "--validate-only"},
		{"--config", cfgPath, "--sequence-yaml", seqPath},
	} {
		cmd := NewRootCommand()
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil {
			t.Errorf("args %v: expected the transition to be rejected", args)
		}
	}
}

func TestRoot_MalformedSequence(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", simulationConfig)
	seqPath := writeFile(t, "sequence.yaml", "steps: [unclosed")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"--config", cfgPath,
		"--sequence-yaml", seqPath,
		"--validate-only",
	})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected a parse error")
	}
}
