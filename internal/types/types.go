package types

import "strings"

// Default tuning values for the incremental indexing pipeline.
const (
	// DefaultDebounceMs is how long the change coalescer waits after the
	// last file event before cutting batches.
	// Rationale: editors emit bursts of events per save/keystroke; 3s
	// collapses a burst (including format-on-save rewrites) into one flush.
	DefaultDebounceMs = 3000

	// DefaultBatchSize bounds the number of files handed to the analyzer
	// in a single invocation.
	DefaultBatchSize = 50

	// DefaultMaxConcurrent bounds the number of analyzer batches in flight.
	DefaultMaxConcurrent = 10

	// DefaultMaxFileSize is the per-file size limit for analysis.
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB
)

// MethodLocation identifies one method as reported by the analyzer.
// Immutable once produced.
type MethodLocation struct {
	Name       string   `json:"name"`
	ClassName  string   `json:"class_name"`
	FilePath   string   `json:"file_path,omitempty"`
	Line       int      `json:"line"` // 1-based
	Column     int      `json:"column"`
	EndLine    int      `json:"end_line"`
	EndColumn  int      `json:"end_column"`
	IsAsync    bool     `json:"is_async,omitempty"`
	IsAbstract bool     `json:"is_abstract,omitempty"`
	Decorators []string `json:"decorators,omitempty"`
}

// MethodRelationship records one method's override linkage: the base
// methods it overrides (ordered, nearest ancestor first) and the
// subclass methods that override it.
type MethodRelationship struct {
	Method          MethodLocation   `json:"method"`
	BaseMethods     []MethodLocation `json:"base_methods"`
	OverrideMethods []MethodLocation `json:"override_methods"`
}

// ClassInheritance records one class's direct base/sub classes and the
// 1-based line of its definition.
type ClassInheritance struct {
	FullName    string   `json:"full_name"`
	BaseClasses []string `json:"base_classes"`
	SubClasses  []string `json:"sub_classes"`
	Line        int      `json:"line"`
}

// FileInheritanceData is everything the analyzer knows about one file.
// A file with no relationship facts has no FileInheritanceData at all;
// absence and "no relationships" are the same state.
type FileInheritanceData struct {
	Methods []MethodRelationship        `json:"methods"`
	Classes map[string]ClassInheritance `json:"classes,omitempty"`
}

// Empty reports whether the record carries no facts.
func (d *FileInheritanceData) Empty() bool {
	return d == nil || (len(d.Methods) == 0 && len(d.Classes) == 0)
}

// ShortName returns the trailing dot-separated component of a qualified
// class name: "pkg.mod.Handler" -> "Handler".
func ShortName(qualified string) string {
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		return qualified[idx+1:]
	}
	return qualified
}

// ClassNamesMatch is the single predicate used everywhere a query
// compares class names: exact match, or equal short names so a fully
// qualified name matches its display form.
func ClassNamesMatch(a, b string) bool {
	if a == b {
		return true
	}
	return ShortName(a) == ShortName(b)
}
