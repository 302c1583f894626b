package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/livetemplate/blockdown/internal/config"
)

// ExecSource runs a command and decodes its stdout. Disabled unless the
// server was started with --allow-exec.
type ExecSource struct {
	name   string
	argv   []string
	dir    string
	output string // "json" (default), "lines" or "text"
	cfg    config.SourceConfig
}

// NewExecSource creates an exec source. options["output"] selects how stdout
// is decoded.
func NewExecSource(name string, cfg config.SourceConfig, baseDir string) (*ExecSource, error) {
	argv := strings.Fields(cfg.Cmd)
	if len(argv) == 0 {
		return nil, &ValidationError{Source: name, Field: "cmd", Reason: "cmd is required"}
	}
	output := cfg.Options["output"]
	switch output {
	case "":
		output = "json"
	case "json", "lines", "text":
	default:
		return nil, &ValidationError{Source: name, Field: "output", Reason: fmt.Sprintf("unknown output %q", output)}
	}
	return &ExecSource{name: name, argv: argv, dir: baseDir, output: output, cfg: cfg}, nil
}

func (s *ExecSource) Name() string { return s.name }

func (s *ExecSource) Fetch(ctx context.Context) (any, error) {
	if !config.IsExecAllowed() {
		return nil, &ExecDisabledError{Source: s.name}
	}

	timeout := s.cfg.GetTimeout()
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, s.argv[0], s.argv[1:]...)
	cmd.Dir = s.dir
	cmd.Env = os.Environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Source: s.name, Operation: "command", Duration: timeout.String()}
		}
		return nil, &SourceError{
			Source:    s.name,
			Operation: "command",
			Err:       fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	switch s.output {
	case "text":
		return strings.TrimSpace(string(out)), nil
	case "lines":
		lines := []any{}
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		return lines, nil
	default:
		return decodeJSON(s.name, out)
	}
}

func (s *ExecSource) Close() error { return nil }
