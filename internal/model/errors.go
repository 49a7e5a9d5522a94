package model

import (
	"fmt"
	"strings"
)

// Kind classifies a fatal pipeline error. Every failure in a run maps to
// exactly one kind; all kinds abort the run.
type Kind string

const (
	KindConfig Kind = "config"
	KindFetch  Kind = "fetch"
	KindAppend Kind = "append"
	KindMerge  Kind = "merge"
	KindExport Kind = "export"
)

// PipelineError carries the error kind plus enough context (source, stage,
// offset) to diagnose a failed run without re-running it.
type PipelineError struct {
	Kind   Kind
	Source string // source name, empty for run-level errors
	Stage  string // pipeline stage the error was raised in
	Offset int    // pagination offset in progress, fetch errors only
	Err    error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Source != "" {
		fmt.Fprintf(&b, " (source %q", e.Source)
		if e.Kind == KindFetch {
			fmt.Fprintf(&b, ", offset %d", e.Offset)
		}
		b.WriteString(")")
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " in stage %s", e.Stage)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind alone, e.g.
// errors.Is(err, &PipelineError{Kind: KindFetch}).
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Source == "" || t.Source == e.Source)
}

// ConfigError reports a missing or invalid run configuration.
func ConfigError(err error) *PipelineError {
	return &PipelineError{Kind: KindConfig, Stage: "init", Err: err}
}

// FetchError reports a failed page fetch for a source at the given offset.
func FetchError(source string, offset int, err error) *PipelineError {
	return &PipelineError{Kind: KindFetch, Source: source, Stage: "fetch", Offset: offset, Err: err}
}

// AppendError reports schema drift or a failed append for a source.
func AppendError(source string, err error) *PipelineError {
	return &PipelineError{Kind: KindAppend, Source: source, Stage: "load", Err: err}
}

// MergeError reports a failure while building the merged relation.
func MergeError(err error) *PipelineError {
	return &PipelineError{Kind: KindMerge, Stage: "merge", Err: err}
}

// ExportError reports an I/O failure during the streaming export.
func ExportError(err error) *PipelineError {
	return &PipelineError{Kind: KindExport, Stage: "export", Err: err}
}
