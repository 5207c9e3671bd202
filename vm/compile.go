package vm

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
)

// ErrWatToolMissing is returned by CompileWat when the wat2wasm binary
// isn't on PATH. Tests that need to compile a .wat fixture should skip on
// this error rather than fail the suite in environments without the
// WebAssembly Binary Toolkit installed.
var ErrWatToolMissing = errors.New("vm: wat2wasm not found on PATH")

// CompileWat shells out to wat2wasm (from WABT) to assemble WebAssembly
// text format source into a binary module, mirroring how the reference
// contract VM test suite builds its fixtures.
func CompileWat(wat []byte) ([]byte, error) {
	path, err := exec.LookPath("wat2wasm")
	if err != nil {
		return nil, ErrWatToolMissing
	}

	cmd := exec.Command(path, "--output=-", "-")
	cmd.Stdin = bytes.NewReader(wat)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("wat2wasm: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
