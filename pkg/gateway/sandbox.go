package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/vorion-labs/cognigate/pkg/intent"
)

// sandboxOutputMax bounds stdout+stderr of one sandboxed execution.
const sandboxOutputMax = 1 << 20 // 1MB

// sandboxRunner wraps a shared wazero runtime. Deny-by-default: no
// filesystem mounts, no network, no environment variables. The per-intent
// context deadline bounds CPU time; the runtime memory ceiling bounds heap.
type sandboxRunner struct {
	runtime wazero.Runtime
}

func newSandboxRunner(ctx context.Context, memoryLimitMB int64) *sandboxRunner {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryLimitMB > 0 {
		pages := uint32(memoryLimitMB * 1024 * 1024 / 65536) // 64KB per page
		if pages == 0 {
			pages = 1
		}
		cfg = cfg.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)
	return &sandboxRunner{runtime: r}
}

func (s *sandboxRunner) close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// runSandboxed executes a registered WASM module in the WASI unit. The
// module receives the intent JSON on stdin and must write its outputs JSON
// to stdout.
func (g *Gateway) runSandboxed(ctx context.Context, wasm []byte, in *intent.Intent, limits ResourceLimits) (map[string]any, *ExecError) {
	g.mu.Lock()
	if g.sandbox == nil {
		// The runtime memory ceiling is fixed at first use; per-request
		// limits below it are enforced by the deadline only.
		g.sandbox = newSandboxRunner(context.Background(), limits.MemoryLimitMB)
	}
	runner := g.sandbox
	g.mu.Unlock()

	input, err := json.Marshal(in)
	if err != nil {
		return nil, execErrorf(ErrCodeHandler, "marshal intent: %v", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("exec-" + in.IntentID).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	// Deliberately not wired: WithFSConfig, WithSysNanotime, WithRandSource.

	compiled, err := runner.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, execErrorf(ErrCodeHandler, "compile module: %v", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := runner.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, execErrorf(ErrCodeTimeout, "sandboxed execution exceeded deadline (%v)", limits.Timeout)
		}
		if isMemoryLimitError(err) {
			return nil, execErrorf(ErrCodeMemoryLimit, "sandboxed execution exceeded memory limit (%d MB)", limits.MemoryLimitMB)
		}
		return nil, execErrorf(ErrCodeHandler, "sandboxed execution failed: %v", err)
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	defer func() { _ = mod.CloseWithExitCode(closeCtx, 0) }()

	if stdout.Len()+stderr.Len() > sandboxOutputMax {
		return nil, execErrorf(ErrCodeHandler, "output size exceeds %d bytes", sandboxOutputMax)
	}
	if stderr.Len() > 0 {
		return nil, execErrorf(ErrCodeHandler, "module stderr: %s", stderr.String())
	}

	outputs := map[string]any{}
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &outputs); err != nil {
			// Non-JSON output is passed through raw rather than lost.
			outputs = map[string]any{"stdout": stdout.String()}
		}
	}
	return outputs, nil
}

// isMemoryLimitError classifies wazero's memory.grow refusal.
func isMemoryLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "memory") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
