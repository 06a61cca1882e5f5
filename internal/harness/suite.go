package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios expands paths into scenario files. Files are kept as given;
// directories contribute their *.yaml and *.yml files in name order.
func FindScenarios(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: path}
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", path, err)
		}
		var found []string
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
				continue
			}
			found = append(found, filepath.Join(path, name))
		}
		slices.Sort(found)
		files = append(files, found...)
	}
	return files, nil
}

// SuiteResult summarizes a run over many scenario files.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a failed scenario.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// RunSuite loads and runs every scenario under paths. A scenario that cannot
// be loaded or run counts as failed; only a missing path fails the call.
func RunSuite(ctx context.Context, paths []string) (*SuiteResult, error) {
	files, err := FindScenarios(paths)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{TotalScenarios: len(files)}
	for _, path := range files {
		name, errs := runFile(ctx, path)
		if len(errs) == 0 {
			suite.Passed++
			continue
		}
		suite.Failed++
		suite.Failures = append(suite.Failures, ScenarioFailure{
			Scenario: name,
			Path:     path,
			Errors:   errs,
		})
	}
	return suite, nil
}

func runFile(ctx context.Context, path string) (string, []string) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return filepath.Base(path), []string{err.Error()}
	}
	result, err := RunContext(ctx, scenario)
	if err != nil {
		return scenario.Name, []string{err.Error()}
	}
	return scenario.Name, result.Errors
}
