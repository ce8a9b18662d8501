package analyzer

import (
	"strings"

	"github.com/standardbeagle/ovi/internal/types"
)

// classRegistry accumulates class facts across analyze calls so that
// base/override relationships resolve across files. It mirrors the
// lifetime of the analyzer: long-lived, updated file-by-file, with a
// file's previous classes dropped when the file is re-analyzed.
type classRegistry struct {
	classes      map[string]*classFacts // full name -> facts
	byFile       map[string][]string    // file path -> full names
	shortIndex   map[string][]string    // short (trailing) name -> full names
	resolvedUpTo map[string][]string    // memoized resolved direct bases
}

func newClassRegistry() *classRegistry {
	return &classRegistry{
		classes:      make(map[string]*classFacts),
		byFile:       make(map[string][]string),
		shortIndex:   make(map[string][]string),
		resolvedUpTo: make(map[string][]string),
	}
}

// replaceFile installs a file's classes, dropping whatever the registry
// previously knew about that file.
func (r *classRegistry) replaceFile(path string, classes []classFacts) {
	for _, full := range r.byFile[path] {
		if cf := r.classes[full]; cf != nil {
			r.removeShort(cf)
		}
		delete(r.classes, full)
	}
	delete(r.byFile, path)

	names := make([]string, 0, len(classes))
	for i := range classes {
		cf := classes[i]
		r.classes[cf.FullName] = &cf
		names = append(names, cf.FullName)
		short := types.ShortName(cf.FullName)
		r.shortIndex[short] = append(r.shortIndex[short], cf.FullName)
	}
	r.byFile[path] = names

	// Base resolution depends on the global class set, so memoized
	// resolutions are invalid after any change.
	r.resolvedUpTo = make(map[string][]string)
}

func (r *classRegistry) removeShort(cf *classFacts) {
	short := types.ShortName(cf.FullName)
	names := r.shortIndex[short]
	for i, n := range names {
		if n == cf.FullName {
			r.shortIndex[short] = append(names[:i], names[i+1:]...)
			break
		}
	}
	if len(r.shortIndex[short]) == 0 {
		delete(r.shortIndex, short)
	}
}

// resolveBase maps a raw base-class reference from a class body onto a
// registered full name: exact full-name match, dotted-suffix match, then
// short-name match preferring the same module. Unresolvable references
// come back unchanged; they still carry display value.
func (r *classRegistry) resolveBase(ownerModule, raw string) string {
	if _, ok := r.classes[raw]; ok {
		return raw
	}
	if strings.Contains(raw, ".") {
		suffix := "." + raw
		for full := range r.classes {
			if strings.HasSuffix(full, suffix) {
				return full
			}
		}
		// mod.Base written locally often refers to plain Base elsewhere.
		raw = types.ShortName(raw)
	}
	candidates := r.shortIndex[raw]
	if len(candidates) == 0 {
		return raw
	}
	for _, full := range candidates {
		if strings.HasPrefix(full, ownerModule+".") {
			return full
		}
	}
	return candidates[0]
}

// directBases returns the resolved direct base names of a class.
func (r *classRegistry) directBases(fullName string) []string {
	if resolved, ok := r.resolvedUpTo[fullName]; ok {
		return resolved
	}
	cf := r.classes[fullName]
	if cf == nil {
		return nil
	}
	module := moduleOf(fullName, cf.ShortName)
	resolved := make([]string, 0, len(cf.RawBases))
	for _, raw := range cf.RawBases {
		resolved = append(resolved, r.resolveBase(module, raw))
	}
	r.resolvedUpTo[fullName] = resolved
	return resolved
}

func moduleOf(fullName, shortName string) string {
	return strings.TrimSuffix(fullName, "."+shortName)
}

// ancestors linearizes a class's ancestry breadth-first over resolved
// direct base edges, nearest ancestor first, cycle-safe. This stands in
// for the MRO; per-level ordering is all the relationship computation
// depends on.
func (r *classRegistry) ancestors(fullName string) []string {
	var out []string
	seen := map[string]bool{fullName: true}
	queue := append([]string(nil), r.directBases(fullName)...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		out = append(out, current)
		queue = append(queue, r.directBases(current)...)
	}
	return out
}

// findBaseMethods walks a class's ancestors and collects the first
// matching method at each level.
func (r *classRegistry) findBaseMethods(fullName, methodName string) []types.MethodLocation {
	var out []types.MethodLocation
	for _, ancestor := range r.ancestors(fullName) {
		cf := r.classes[ancestor]
		if cf == nil {
			continue
		}
		for i := range cf.Methods {
			if cf.Methods[i].Name == methodName {
				out = append(out, cf.Methods[i])
				break
			}
		}
	}
	return out
}

// findOverrideMethods collects, from every registered class that has
// fullName among its ancestors, the first method matching methodName.
func (r *classRegistry) findOverrideMethods(fullName, methodName string) []types.MethodLocation {
	var out []types.MethodLocation
	for candidate, cf := range r.classes {
		if candidate == fullName {
			continue
		}
		if !contains(r.ancestors(candidate), fullName) {
			continue
		}
		for i := range cf.Methods {
			if cf.Methods[i].Name == methodName {
				out = append(out, cf.Methods[i])
				break
			}
		}
	}
	return out
}

// subclasses returns the direct subclasses of a class.
func (r *classRegistry) subclasses(fullName string) []string {
	var out []string
	for candidate := range r.classes {
		if candidate == fullName {
			continue
		}
		if contains(r.directBases(candidate), fullName) {
			out = append(out, candidate)
		}
	}
	return out
}

// fileData assembles the FileInheritanceData for one file from the
// current registry state: method relationships for methods that have a
// base or an override, plus the file's class inheritance map keyed by
// short class name. Returns nil when the file carries no facts.
func (r *classRegistry) fileData(path string) *types.FileInheritanceData {
	fulls := r.byFile[path]
	if len(fulls) == 0 {
		return nil
	}

	data := &types.FileInheritanceData{
		Classes: make(map[string]types.ClassInheritance, len(fulls)),
	}
	hasInheritance := false

	for _, full := range fulls {
		cf := r.classes[full]
		if cf == nil {
			continue
		}

		for i := range cf.Methods {
			m := cf.Methods[i]
			baseMethods := r.findBaseMethods(full, m.Name)
			overrideMethods := r.findOverrideMethods(full, m.Name)
			if len(baseMethods) == 0 && len(overrideMethods) == 0 {
				continue
			}
			data.Methods = append(data.Methods, types.MethodRelationship{
				Method:          m,
				BaseMethods:     baseMethods,
				OverrideMethods: overrideMethods,
			})
			hasInheritance = true
		}

		bases := r.directBases(full)
		subs := r.subclasses(full)
		if len(bases) > 0 || len(subs) > 0 {
			hasInheritance = true
		}
		data.Classes[types.ShortName(full)] = types.ClassInheritance{
			FullName:    full,
			BaseClasses: bases,
			SubClasses:  subs,
			Line:        cf.Line,
		}
	}

	if !hasInheritance {
		return nil
	}
	return data
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
