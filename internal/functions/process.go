package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oriys/pulsar/internal/bindings"
	"github.com/oriys/pulsar/internal/invocation"
	"github.com/oriys/pulsar/internal/protocol"
)

// maxStderrInError bounds how much of a failed script's stderr ends up in
// the error message.
const maxStderrInError = 4096

// ProcessLoader loads functions implemented as scripts. Every invocation
// starts the script as a child process:
//
//	<interpreter> <script> <entry point>
//
// with a JSON document {"entry_point", "args", "context"} on stdin. The script
// answers on stdout with {"return": ..., "outputs": {...}, "error": "..."};
// output that is not such an object is taken as the return value.
type ProcessLoader struct {
	// Root resolves relative function directories.
	Root string
	// Interpreters maps a script extension to the command that runs it.
	// Scripts with unknown extensions are executed directly.
	Interpreters map[string][]string
}

// NewProcessLoader returns a loader with the default interpreters.
func NewProcessLoader(root string) *ProcessLoader {
	return &ProcessLoader{
		Root: root,
		Interpreters: map[string][]string{
			".py":  {"python3"},
			".js":  {"node"},
			".rb":  {"ruby"},
			".php": {"php"},
			".lua": {"lua"},
			".ts":  {"deno", "run", "--allow-all"},
			".sh":  {"sh"},
		},
	}
}

// functionJSON is the optional function.json found next to a script.
type functionJSON struct {
	Bindings []struct {
		Name      string             `json:"name"`
		Type      string             `json:"type"`
		Direction protocol.Direction `json:"direction"`
		DataType  string             `json:"dataType"`
	} `json:"bindings"`
}

func (l *ProcessLoader) Load(_ context.Context, md Metadata) (*Loaded, error) {
	dir := md.Directory
	if !filepath.IsAbs(dir) && l.Root != "" {
		dir = filepath.Join(l.Root, dir)
	}
	if md.ScriptFile == "" {
		return nil, fmt.Errorf("%w: no script file", ErrEntryPointNotFound)
	}
	script := md.ScriptFile
	if !filepath.IsAbs(script) {
		script = filepath.Join(dir, script)
	}
	if _, err := os.Stat(script); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: script %s", ErrEntryPointNotFound, script)
		}
		return nil, err
	}

	declared, err := readFunctionJSON(filepath.Join(dir, "function.json"))
	if err != nil {
		return nil, err
	}

	argv := append([]string(nil), l.Interpreters[strings.ToLower(filepath.Ext(script))]...)
	argv = append(argv, script, md.EntryPoint)

	p := &process{name: md.Name, dir: dir, entryPoint: md.EntryPoint, argv: argv}
	return &Loaded{
		Func:            p.call,
		IsAsync:         false,
		RequiresContext: true,
		Bindings:        declared,
	}, nil
}

func readFunctionJSON(path string) (map[string]protocol.BindingInfo, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fj functionJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]protocol.BindingInfo, len(fj.Bindings))
	for _, b := range fj.Bindings {
		out[b.Name] = protocol.BindingInfo{Type: b.Type, Direction: b.Direction, DataType: b.DataType}
	}
	return out, nil
}

type process struct {
	name       string
	dir        string
	entryPoint string
	argv       []string
}

type processInput struct {
	EntryPoint string            `json:"entry_point"`
	Args       map[string]any    `json:"args"`
	Context    *bindings.Context `json:"context,omitempty"`
}

type processOutput struct {
	Return  json.RawMessage            `json:"return"`
	Outputs map[string]json.RawMessage `json:"outputs"`
	Error   string                     `json:"error"`
}

func (p *process) call(ctx context.Context, args map[string]any) (any, error) {
	in := processInput{EntryPoint: p.entryPoint, Args: make(map[string]any, len(args))}
	outs := make(map[string]*bindings.Out)
	for name, v := range args {
		switch val := v.(type) {
		case *bindings.Out:
			outs[name] = val
		case *bindings.Context:
			in.Context = val
		default:
			in.Args[name] = val
		}
	}
	stdin, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode function input: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	// os.Environ is read per call so environment reloads reach the script.
	cmd.Env = append(os.Environ(),
		"PULSAR_INVOCATION_ID="+invocation.ID(ctx),
		"PULSAR_FUNCTION_NAME="+p.name,
	)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderrInError {
			msg = msg[:maxStderrInError] + "...[truncated]"
		}
		if msg != "" {
			return nil, fmt.Errorf("execution failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		return nil, nil
	}
	var po processOutput
	if !json.Valid(raw) || raw[0] != '{' || json.Unmarshal(raw, &po) != nil {
		return string(raw), nil
	}
	if po.Error != "" {
		return nil, errors.New(po.Error)
	}
	for name, value := range po.Outputs {
		out, ok := outs[name]
		if !ok {
			return nil, fmt.Errorf("script wrote undeclared output %q", name)
		}
		if err := out.Set(fromJSON(value)); err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
	}
	return fromJSON(po.Return), nil
}

// fromJSON turns a script value into the most natural Go value: JSON
// strings become Go strings, null becomes nil, anything else stays raw.
func fromJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return raw
}

// Chain tries each loader in turn, moving on only when a loader reports
// ErrEntryPointNotFound.
type Chain []Loader

func (c Chain) Load(ctx context.Context, md Metadata) (*Loaded, error) {
	err := fmt.Errorf("%w: no loaders configured", ErrEntryPointNotFound)
	for _, l := range c {
		var ld *Loaded
		ld, err = l.Load(ctx, md)
		if err == nil {
			return ld, nil
		}
		if !errors.Is(err, ErrEntryPointNotFound) {
			return nil, err
		}
	}
	return nil, err
}
