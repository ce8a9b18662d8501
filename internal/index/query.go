package index

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/types"
)

// Line tolerances for method matching. Local lookups tolerate minor
// reformatting drift; cross-file fallback matches are less positionally
// precise so they get a wider window.
const (
	localLineTolerance     = 1
	crossFileLineTolerance = 5
)

// RelationshipsForMethod resolves the relationship record for a method,
// trying progressively weaker strategies:
//
//  1. exact file key, class+method match within ±1 line
//  2. path-normalized key (slash equivalence, suffix containment)
//  3. cross-file search over every indexed file within ±5 lines
//  4. synthesis from base_methods entries: a base method with no record
//     of its own still answers "who overrides me"
//
// When the requested file has no entry at all, the miss callback fires so
// the owner can schedule on-demand analysis; the current query never
// waits for it.
func (ix *Index) RelationshipsForMethod(filePath, className, methodName string, line int) *types.MethodRelationship {
	ix.mu.RLock()
	var miss func(string)

	key, found := ix.resolveKeyLocked(filePath)
	if found {
		if rel := matchMethod(ix.files[key].Methods, className, methodName, line, localLineTolerance); rel != nil {
			ix.mu.RUnlock()
			return rel
		}
	} else {
		miss = ix.onMiss
	}

	// Cross-file direct match.
	for _, data := range ix.files {
		if rel := matchMethod(data.Methods, className, methodName, line, crossFileLineTolerance); rel != nil {
			ix.mu.RUnlock()
			if miss != nil {
				miss(filePath)
			}
			return rel
		}
	}

	// Synthesis: some subclass records this class+method among its base
	// methods. Expose the overriding method even though the base method
	// itself has no stored relationship.
	synth := ix.synthesizeBaseLocked(className, methodName)
	ix.mu.RUnlock()

	if miss != nil {
		miss(filePath)
	}
	if synth == nil {
		debug.LogQuery("no relationship for %s.%s at %s:%d\n", className, methodName, filePath, line)
	}
	return synth
}

// resolveKeyLocked maps a queried file path onto an index key, first
// exactly, then by slash-normalized suffix containment. Caller holds at
// least a read lock.
func (ix *Index) resolveKeyLocked(filePath string) (string, bool) {
	if _, ok := ix.files[filePath]; ok {
		return filePath, true
	}
	nq := normalizePath(filePath)
	for key := range ix.files {
		if pathsEquivalent(normalizePath(key), nq) {
			return key, true
		}
	}
	return "", false
}

func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

// pathsEquivalent reports whether two normalized paths name the same
// file: identical, or one is a path suffix of the other on a slash
// boundary (a relative query against an absolute key, or vice versa).
func pathsEquivalent(a, b string) bool {
	if a == b {
		return true
	}
	if strings.HasSuffix(a, "/"+strings.TrimPrefix(b, "/")) {
		return true
	}
	return strings.HasSuffix(b, "/"+strings.TrimPrefix(a, "/"))
}

// matchMethod scans a file's relationships for a class+method match
// within the line tolerance. A non-positive query line disables the line
// check.
func matchMethod(rels []types.MethodRelationship, className, methodName string, line, tolerance int) *types.MethodRelationship {
	for i := range rels {
		rel := &rels[i]
		if rel.Method.Name != methodName {
			continue
		}
		if !types.ClassNamesMatch(rel.Method.ClassName, className) {
			continue
		}
		if line > 0 && abs(rel.Method.Line-line) > tolerance {
			continue
		}
		return rel
	}
	return nil
}

func (ix *Index) synthesizeBaseLocked(className, methodName string) *types.MethodRelationship {
	for _, data := range ix.files {
		for i := range data.Methods {
			rel := &data.Methods[i]
			for _, base := range rel.BaseMethods {
				if base.Name != methodName || !types.ClassNamesMatch(base.ClassName, className) {
					continue
				}
				return &types.MethodRelationship{
					Method:          base,
					BaseMethods:     []types.MethodLocation{},
					OverrideMethods: []types.MethodLocation{rel.Method},
				}
			}
		}
	}
	return nil
}

// ClassInheritanceFor returns inheritance data for a class, preferring
// class-level facts from the file's own record, then any file's record,
// then inference projected over method relationships. Method-level
// inference only ever adds base/sub names to what class-level data
// already states. Base and sub class names in the result are shortened
// to their trailing component for display.
//
// A positive line disambiguates same-named classes within the queried
// file (nested Meta classes and the like) by preferring the entry whose
// definition line is closest; zero disables it.
func (ix *Index) ClassInheritanceFor(filePath, className string, line int) *types.ClassInheritance {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var found *types.ClassInheritance
	if key, ok := ix.resolveKeyLocked(filePath); ok {
		if line > 0 {
			found = classNearLine(ix.files[key], className, line)
		}
		if found == nil {
			found = classFromData(ix.files[key], className)
		}
	}
	if found == nil {
		for _, data := range ix.files {
			if ci := classFromData(data, className); ci != nil {
				found = ci
				break
			}
		}
	}

	result := types.ClassInheritance{FullName: className}
	if found != nil {
		result = *found
	}

	inferredBases, inferredSubs := ix.inferFromMethodsLocked(className)
	result.BaseClasses = mergeShortNames(result.BaseClasses, inferredBases)
	result.SubClasses = mergeShortNames(result.SubClasses, inferredSubs)

	if found == nil && len(result.BaseClasses) == 0 && len(result.SubClasses) == 0 {
		return nil
	}
	return &result
}

// classNearLine picks the matching class entry whose stored definition
// line is closest to the queried line. Entries without line information
// never win here; the caller falls back to the positionless lookup.
func classNearLine(data *types.FileInheritanceData, className string, line int) *types.ClassInheritance {
	if data == nil || data.Classes == nil {
		return nil
	}
	var best *types.ClassInheritance
	bestDist := 0
	for _, ci := range data.Classes {
		if ci.Line <= 0 || !types.ClassNamesMatch(ci.FullName, className) {
			continue
		}
		dist := abs(ci.Line - line)
		if best == nil || dist < bestDist {
			ci := ci
			best = &ci
			bestDist = dist
		}
	}
	return best
}

// classFromData finds a class entry by map key, full name, or short name.
func classFromData(data *types.FileInheritanceData, className string) *types.ClassInheritance {
	if data == nil || data.Classes == nil {
		return nil
	}
	if ci, ok := data.Classes[className]; ok {
		return &ci
	}
	for _, ci := range data.Classes {
		if types.ClassNamesMatch(ci.FullName, className) {
			return &ci
		}
	}
	if ci, ok := data.Classes[types.ShortName(className)]; ok {
		return &ci
	}
	return nil
}

// inferFromMethodsLocked projects base/sub class names for className out
// of every stored method relationship.
func (ix *Index) inferFromMethodsLocked(className string) (bases, subs []string) {
	for _, data := range ix.files {
		for i := range data.Methods {
			rel := &data.Methods[i]
			if types.ClassNamesMatch(rel.Method.ClassName, className) {
				for _, m := range rel.BaseMethods {
					bases = append(bases, m.ClassName)
				}
				for _, m := range rel.OverrideMethods {
					subs = append(subs, m.ClassName)
				}
				continue
			}
			for _, m := range rel.BaseMethods {
				if types.ClassNamesMatch(m.ClassName, className) {
					subs = append(subs, rel.Method.ClassName)
				}
			}
			for _, m := range rel.OverrideMethods {
				if types.ClassNamesMatch(m.ClassName, className) {
					bases = append(bases, rel.Method.ClassName)
				}
			}
		}
	}
	return bases, subs
}

// mergeShortNames shortens every name to its trailing component and
// deduplicates, preserving first-seen order.
func mergeShortNames(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, name := range existing {
		short := types.ShortName(name)
		if short != "" && !seen[short] {
			seen[short] = true
			out = append(out, short)
		}
	}
	for _, name := range extra {
		short := types.ShortName(name)
		if short != "" && !seen[short] {
			seen[short] = true
			out = append(out, short)
		}
	}
	return out
}

// FindClassDefinitionSync locates a class definition using only indexed
// data: a class-level line if one is stored anywhere, else an estimate
// 10 lines above the class's first known method. No file I/O.
func (ix *Index) FindClassDefinitionSync(className string) (string, int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for path, data := range ix.files {
		if ci := classFromData(data, className); ci != nil && ci.Line > 0 {
			return path, ci.Line, true
		}
	}

	// Estimate from method data. The class statement precedes its first
	// method, usually by a handful of decorator/docstring lines.
	for path, data := range ix.files {
		for i := range data.Methods {
			rel := &data.Methods[i]
			if types.ClassNamesMatch(rel.Method.ClassName, className) {
				line := rel.Method.Line - 10
				if line < 1 {
					line = 1
				}
				return path, line, true
			}
		}
	}
	return "", 0, false
}

// FindClassDefinition is the I/O-permitted form: after the sync
// strategies it opens indexed source files and pattern-matches a class
// definition line.
func (ix *Index) FindClassDefinition(className string) (string, int, bool) {
	if path, line, ok := ix.FindClassDefinitionSync(className); ok {
		return path, line, ok
	}

	short := regexp.QuoteMeta(types.ShortName(className))
	pattern := regexp.MustCompile(`^\s*class\s+` + short + `\b`)

	for _, path := range ix.Files() {
		if line, ok := scanForPattern(path, pattern); ok {
			return path, line, true
		}
	}
	return "", 0, false
}

func scanForPattern(path string, pattern *regexp.Regexp) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if pattern.MatchString(scanner.Text()) {
			return line, true
		}
	}
	return 0, false
}

// SuggestClasses returns up to max indexed class names ranked by
// similarity to name, for "did you mean" output when a lookup misses.
func (ix *Index) SuggestClasses(name string, max int) []string {
	ix.mu.RLock()
	candidates := make(map[string]bool)
	for _, data := range ix.files {
		for _, ci := range data.Classes {
			candidates[ci.FullName] = true
		}
		for i := range data.Methods {
			candidates[data.Methods[i].Method.ClassName] = true
		}
	}
	ix.mu.RUnlock()

	short := types.ShortName(name)
	type scored struct {
		name  string
		score float32
	}
	ranked := make([]scored, 0, len(candidates))
	for candidate := range candidates {
		score, err := edlib.StringsSimilarity(short, types.ShortName(candidate), edlib.Levenshtein)
		if err != nil || score < 0.5 {
			continue
		}
		ranked = append(ranked, scored{candidate, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	if max > 0 && len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.name
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// WorkspaceRelative trims the workspace root from an absolute path for
// display. Unrelated paths pass through unchanged.
func WorkspaceRelative(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
