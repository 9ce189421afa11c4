package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/suggest"
)

// Builtin is an analytic implemented in process. Schema is a JSON Schema
// (draft 2020-12) for the APPLY arguments.
type Builtin struct {
	Name   string
	Schema string
	Run    func(ctx context.Context, inputs []Input, args ir.IRObject) (Result, error)
}

// Builtins is the runner for the "builtin" scheme.
type Builtins struct {
	analytics map[string]Builtin
	schemas   map[string]*jsonschema.Schema
}

// NewBuiltins returns a runner holding the standard builtin analytics.
func NewBuiltins() *Builtins {
	b := &Builtins{
		analytics: make(map[string]Builtin),
		schemas:   make(map[string]*jsonschema.Schema),
	}
	for _, a := range []Builtin{tagAnalytic, dedupAnalytic, sampleAnalytic} {
		if err := b.Add(a); err != nil {
			panic(err)
		}
	}
	return b
}

// Add registers a builtin, compiling its argument schema.
func (b *Builtins) Add(a Builtin) error {
	schema, err := compileSchema(a.Name, a.Schema)
	if err != nil {
		return fmt.Errorf("builtin %q: %w", a.Name, err)
	}
	b.analytics[a.Name] = a
	b.schemas[a.Name] = schema
	return nil
}

// Names returns the registered builtin names in sorted order.
func (b *Builtins) Names() []string {
	names := make([]string, 0, len(b.analytics))
	for name := range b.analytics {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (b *Builtins) Run(ctx context.Context, req Request) (Result, error) {
	name := strings.TrimPrefix(req.Locator, "builtin://")
	a, ok := b.analytics[name]
	if !ok {
		return Result{}, &AnalyticsError{
			Locator: req.Locator,
			Hint:    suggest.Hint(name, b.Names()),
			Err:     fmt.Errorf("%w: no builtin %q", ErrUnknownAnalytics, name),
		}
	}

	args := req.Args
	if args == nil {
		args = ir.IRObject{}
	}
	if err := validateArgs(b.schemas[name], args); err != nil {
		return Result{}, fmt.Errorf("invalid arguments: %w", err)
	}
	return a.Run(ctx, req.Inputs, args)
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	url := "schema://builtin/" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func validateArgs(schema *jsonschema.Schema, args ir.IRObject) error {
	data, err := ir.MarshalIRValue(args)
	if err != nil {
		return err
	}
	// The validator expects the generic encoding/json shape with numbers
	// kept as json.Number.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// tag sets one attribute to a constant on every row of every input.
var tagAnalytic = Builtin{
	Name: "tag",
	Schema: `{
		"type": "object",
		"properties": {
			"attr": {"type": "string", "minLength": 1},
			"value": {"type": ["string", "number", "boolean"]}
		},
		"required": ["value"],
		"additionalProperties": false
	}`,
	Run: func(_ context.Context, inputs []Input, args ir.IRObject) (Result, error) {
		attr := "tag"
		if s, ok := args["attr"].(ir.IRString); ok {
			attr = string(s)
		}
		value := args["value"]

		outputs := make([]Output, len(inputs))
		for i, in := range inputs {
			rows := make([]ir.IRObject, len(in.Rows))
			for j, row := range in.Rows {
				tagged := make(ir.IRObject, len(row)+1)
				for k, v := range row {
					tagged[k] = v
				}
				tagged[attr] = value
				rows[j] = tagged
			}
			outputs[i] = Output{Name: in.Name, EntityType: in.EntityType, Rows: rows}
		}
		return Result{Outputs: outputs}, nil
	},
}

// dedup keeps the first row for each distinct combination of attrs.
var dedupAnalytic = Builtin{
	Name: "dedup",
	Schema: `{
		"type": "object",
		"properties": {
			"attrs": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"minItems": 1
			}
		},
		"required": ["attrs"],
		"additionalProperties": false
	}`,
	Run: func(_ context.Context, inputs []Input, args ir.IRObject) (Result, error) {
		var attrs []string
		switch v := args["attrs"].(type) {
		case ir.IRArray:
			for _, a := range v {
				attrs = append(attrs, ir.Text(a))
			}
		case ir.IRString:
			attrs = []string{string(v)}
		}

		var res Result
		for _, in := range inputs {
			seen := make(map[string]bool)
			rows := []ir.IRObject{}
			missing := false
			for _, row := range in.Rows {
				key, err := ir.MarshalCanonical(ir.Project(row, attrs))
				if err != nil {
					return Result{}, err
				}
				for _, a := range attrs {
					if v, ok := row[a]; !ok || ir.IsNull(v) {
						missing = true
					}
				}
				if seen[string(key)] {
					continue
				}
				seen[string(key)] = true
				rows = append(rows, row)
			}
			if missing {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("%s: some rows lack %s; treated as null", in.Name, strings.Join(attrs, ", ")))
			}
			res.Outputs = append(res.Outputs, Output{Name: in.Name, EntityType: in.EntityType, Rows: rows})
		}
		return res, nil
	},
}

// sample keeps the first n rows of each input.
var sampleAnalytic = Builtin{
	Name: "sample",
	Schema: `{
		"type": "object",
		"properties": {
			"n": {"type": "integer", "minimum": 0}
		},
		"required": ["n"],
		"additionalProperties": false
	}`,
	Run: func(_ context.Context, inputs []Input, args ir.IRObject) (Result, error) {
		n, _ := args["n"].(ir.IRInt)
		outputs := make([]Output, len(inputs))
		for i, in := range inputs {
			rows := in.Rows
			if int(n) < len(rows) {
				rows = rows[:n]
			}
			outputs[i] = Output{Name: in.Name, EntityType: in.EntityType, Rows: rows}
		}
		return Result{Outputs: outputs}, nil
	},
}
