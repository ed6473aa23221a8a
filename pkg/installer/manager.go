package installer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Manager identifies the external package-manager binary the installer
// delegates to.
type Manager struct {
	// Name is the manager name ("pnpm" or "npm").
	Name string `json:"name"`

	// Bin is the resolved binary path.
	Bin string `json:"bin"`
}

// DetectManager probes for the preferred package manager and falls back to
// the alternate. If neither is on PATH, installation is impossible and the
// caller must fail fast.
func DetectManager(preferred, fallback string) (Manager, error) {
	if preferred == "" {
		preferred = "pnpm"
	}
	if fallback == "" {
		fallback = "npm"
	}
	for _, name := range []string{preferred, fallback} {
		if bin, err := exec.LookPath(name); err == nil {
			return Manager{Name: name, Bin: bin}, nil
		}
	}
	return Manager{}, fmt.Errorf("no package manager found: tried %s, %s", preferred, fallback)
}

// addArgs builds the argument list for installing the given specs. A spec is
// either a name@constraint pair or a path to a local archive.
func (m Manager) addArgs(dev bool, specs []string) []string {
	var args []string
	switch m.Name {
	case "pnpm":
		args = []string{"add"}
	default:
		args = []string{"install"}
	}
	if dev {
		args = append(args, "--save-dev")
	}
	return append(args, specs...)
}

// Runner executes package-manager commands. The default implementation
// shells out; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir, bin string, args ...string) error
}

// execRunner runs commands via os/exec in the target directory.
type execRunner struct{}

// Run executes the command and folds captured output into the error, since
// package managers put the useful diagnostics on stdout/stderr.
func (execRunner) Run(ctx context.Context, dir, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, lastLines(msg, 10))
		}
		return fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return nil
}

// lastLines keeps error messages bounded when the manager dumps a long log.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
