package engine

import (
	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/store"
)

// Display is the result of a DISP statement.
type Display struct {
	Statement  int64         `json:"statement"`
	Text       string        `json:"text"`
	EntityType string        `json:"type"`
	Attributes []string      `json:"attributes"`
	Rows       []ir.IRObject `json:"rows"`
}

// VariableInfo is the result of an INFO statement.
type VariableInfo struct {
	Statement   int64                 `json:"statement"`
	Variable    string                `json:"variable"`
	EntityType  string                `json:"type"`
	Count       int64                 `json:"count"`
	Attributes  []store.AttributeInfo `json:"attributes"`
	Provenance  string                `json:"provenance"`
	Datasources []string              `json:"datasources,omitempty"`
}

// Output receives the side effects of DISP and INFO.
type Output interface {
	Display(d Display) error
	Info(i VariableInfo) error
}

// Recorder is an Output that keeps everything it receives.
type Recorder struct {
	Displays []Display
	Infos    []VariableInfo
}

func (r *Recorder) Display(d Display) error {
	r.Displays = append(r.Displays, d)
	return nil
}

func (r *Recorder) Info(i VariableInfo) error {
	r.Infos = append(r.Infos, i)
	return nil
}

// Trace records one executed statement. ID is content-addressed from the
// statement text and Seq.
type Trace struct {
	ID         string   `json:"id"`
	Seq        int64    `json:"seq"`
	Command    string   `json:"command"`
	Output     string   `json:"output,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
	EntityType string   `json:"type,omitempty"`
	Count      int64    `json:"count"`
	Warnings   []string `json:"warnings,omitempty"`
}
