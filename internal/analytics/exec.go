package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/roach88/huntflow/internal/ir"
)

// ErrExecDisabled is returned by Exec when external programs are not allowed.
var ErrExecDisabled = errors.New("exec analytics are disabled")

// Exec runs "exec://<path>" analytics as external programs. The program gets
// one JSON document on stdin:
//
//	{"inputs": [{"name": "p", "type": "process", "rows": [...]}], "args": {...}}
//
// and must print a Result document on stdout. A non-zero exit fails the
// APPLY with the program's stderr.
type Exec struct {
	Allow bool
}

type execRequest struct {
	Inputs []Input      `json:"inputs"`
	Args   ir.IRObject `json:"args"`
}

func (e Exec) Run(ctx context.Context, req Request) (Result, error) {
	if !e.Allow {
		return Result{}, ErrExecDisabled
	}
	path := strings.TrimPrefix(req.Locator, "exec://")
	if path == "" {
		return Result{}, fmt.Errorf("%w: empty program path", ErrUnknownAnalytics)
	}

	args := req.Args
	if args == nil {
		args = ir.IRObject{}
	}
	inputs := req.Inputs
	if inputs == nil {
		inputs = []Input{}
	}
	payload, err := json.Marshal(execRequest{Inputs: inputs, Args: args})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Result{}, fmt.Errorf("%w: %s", err, msg)
		}
		return Result{}, err
	}

	return decodeResult(stdout.Bytes())
}

type wireOutput struct {
	Name       string            `json:"name"`
	EntityType string            `json:"type"`
	Rows       []json.RawMessage `json:"rows"`
}

type wireResult struct {
	Outputs  []wireOutput `json:"outputs"`
	Warnings []string     `json:"warnings"`
}

func decodeResult(data []byte) (Result, error) {
	var wire wireResult
	if err := json.Unmarshal(data, &wire); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}

	res := Result{Warnings: wire.Warnings}
	for _, out := range wire.Outputs {
		if out.Name == "" {
			return Result{}, errors.New("decode result: output without a name")
		}
		rows := make([]ir.IRObject, 0, len(out.Rows))
		for i, raw := range out.Rows {
			v, err := ir.UnmarshalIRValue(raw)
			if err != nil {
				return Result{}, fmt.Errorf("decode result: %s row %d: %w", out.Name, i, err)
			}
			obj, ok := v.(ir.IRObject)
			if !ok {
				return Result{}, fmt.Errorf("decode result: %s row %d is %s, not an object", out.Name, i, ir.TypeName(v))
			}
			rows = append(rows, obj)
		}
		res.Outputs = append(res.Outputs, Output{Name: out.Name, EntityType: out.EntityType, Rows: rows})
	}
	return res, nil
}
