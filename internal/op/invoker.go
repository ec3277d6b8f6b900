package op

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// Invoker executes one operation with concrete input values.
//
// On success it returns the artifact paths produced for every declared
// output slot: one path for scalar slots, the sorted matches for glob
// slots. A missing or empty output is a failure: the engine recognizes no
// partial-output success state.
type Invoker interface {
	Invoke(ctx context.Context, d Descriptor, inputs map[string]string, workDir string) (map[string][]string, error)
}

// CommandInvoker runs operations as external processes.
//
// The process runs with the invocation's working directory as its CWD. After
// the process exits successfully, every declared output artifact must exist
// on disk or the invocation is reported failed.
type CommandInvoker struct {
	// Stderr, when set, receives the tool's combined output on failure.
	Stderr *bytes.Buffer
}

// Invoke expands the descriptor's command template, runs it, and verifies
// the declared outputs.
func (ci *CommandInvoker) Invoke(ctx context.Context, d Descriptor, inputs map[string]string, workDir string) (map[string][]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if workDir == "" {
		return nil, fmt.Errorf("operation %q: working directory is required", d.Name)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("operation %q: creating working directory: %w", d.Name, err)
	}

	for name, content := range d.AuxFiles {
		if err := os.WriteFile(filepath.Join(workDir, name), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("operation %q: writing %q: %w", d.Name, name, err)
		}
	}

	outputs := OutputPaths(d, workDir)
	argv, err := ExpandArgv(d, inputs, outputs)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("operation %q: empty command", d.Name)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so cancellation can take down the whole tool tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("operation %q: starting %q: %w", d.Name, argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("operation %q cancelled: %w", d.Name, ctx.Err())
	case err = <-done:
	}

	if err != nil {
		if ci.Stderr != nil {
			ci.Stderr.Write(stderr.Bytes())
		}
		return nil, fmt.Errorf("operation %q: %w: %s", d.Name, err, firstLine(stderr.Bytes()))
	}

	return CollectOutputs(d, workDir)
}

// CollectOutputs verifies and gathers the declared artifacts of d after an
// invocation in workDir. Every scalar artifact must exist and every glob
// must match at least once; glob matches are returned sorted.
func CollectOutputs(d Descriptor, workDir string) (map[string][]string, error) {
	out := make(map[string][]string, len(d.OutputSlots))
	for _, slot := range d.OutputSlots {
		if file, ok := d.OutputFiles[slot]; ok {
			path := filepath.Join(workDir, file)
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("operation %q: output slot %q missing artifact %q", d.Name, slot, path)
			}
			out[slot] = []string{path}
			continue
		}
		pattern := filepath.Join(workDir, d.OutputGlobs[slot])
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("operation %q: output slot %q: %w", d.Name, slot, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("operation %q: output slot %q matched no artifacts for %q", d.Name, slot, pattern)
		}
		sort.Strings(matches)
		out[slot] = matches
	}
	return out, nil
}

// OutputPaths returns the artifact path for each scalar output slot of d
// when invoked in workDir. Glob slots have no fixed path before the tool
// runs and are omitted.
func OutputPaths(d Descriptor, workDir string) map[string]string {
	out := make(map[string]string, len(d.OutputSlots))
	for _, slot := range d.OutputSlots {
		if file, ok := d.OutputFiles[slot]; ok {
			out[slot] = filepath.Join(workDir, file)
		}
	}
	return out
}

// ExpandArgv substitutes input, output, and parameter placeholders in the
// descriptor's command template.
//
// A placeholder referencing an unbound input or unknown parameter is an
// error: the caller must fully bind the operation before invocation.
func ExpandArgv(d Descriptor, inputs, outputs map[string]string) ([]string, error) {
	argv := make([]string, 0, len(d.Argv))
	for _, tok := range d.Argv {
		expanded, err := expandToken(d, tok, inputs, outputs)
		if err != nil {
			return nil, err
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func expandToken(d Descriptor, tok string, inputs, outputs map[string]string) (string, error) {
	if !strings.Contains(tok, "{") {
		return tok, nil
	}
	var b strings.Builder
	rest := tok
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closeIdx := strings.Index(rest[open:], "}")
		if closeIdx < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		ref := rest[open+1 : open+closeIdx]
		rest = rest[open+closeIdx+1:]

		kind, name, ok := strings.Cut(ref, ":")
		if !ok {
			return "", fmt.Errorf("operation %q: malformed placeholder %q", d.Name, ref)
		}
		switch kind {
		case "in":
			v, bound := inputs[name]
			if !bound {
				return "", fmt.Errorf("operation %q: input slot %q is unbound", d.Name, name)
			}
			b.WriteString(v)
		case "out":
			v, declared := outputs[name]
			if !declared {
				return "", fmt.Errorf("operation %q: unknown output slot %q", d.Name, name)
			}
			b.WriteString(v)
		case "param":
			v, declared := d.Params[name]
			if !declared {
				return "", fmt.Errorf("operation %q: unknown parameter %q", d.Name, name)
			}
			b.WriteString(v)
		default:
			return "", fmt.Errorf("operation %q: unknown placeholder kind %q", d.Name, kind)
		}
	}
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
