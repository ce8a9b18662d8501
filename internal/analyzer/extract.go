package analyzer

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/standardbeagle/ovi/internal/errors"
	"github.com/standardbeagle/ovi/internal/types"
)

var (
	pythonLangOnce sync.Once
	pythonLang     *tree_sitter.Language
	parserPool     sync.Pool
)

func pythonLanguage() *tree_sitter.Language {
	pythonLangOnce.Do(func() {
		pythonLang = tree_sitter.NewLanguage(tree_sitter_python.Language())
		parserPool = sync.Pool{
			New: func() any {
				p := tree_sitter.NewParser()
				if err := p.SetLanguage(pythonLang); err != nil {
					panic(fmt.Sprintf("set python language: %v", err))
				}
				return p
			},
		}
	})
	return pythonLang
}

// classFacts is the raw per-class extraction result before base names
// are resolved against the registry.
type classFacts struct {
	FullName  string
	ShortName string
	FilePath  string
	Line      int
	RawBases  []string
	Methods   []types.MethodLocation
}

// fileFacts is everything extracted from one parsed source file.
type fileFacts struct {
	Path    string
	Module  string
	Classes []classFacts
}

// moduleName derives the dotted module path for a file relative to the
// workspace root: pkg/mod.py -> pkg.mod, pkg/__init__.py -> pkg.
func moduleName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ".py")
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

// extractFile parses one Python source file and extracts its classes
// with their methods and raw base-class names. A tree whose root
// contains ERROR nodes yields a syntax-classified error.
func extractFile(root, path string, source []byte) (*fileFacts, error) {
	pythonLanguage()
	p, _ := parserPool.Get().(*tree_sitter.Parser)
	tree := p.Parse(source, nil)
	parserPool.Put(p)
	if tree == nil {
		return nil, errors.NewIndexError(errors.ErrorTypeInternal, "parse", fmt.Errorf("parser returned no tree")).WithFile(path)
	}
	defer tree.Close()

	rootNode := tree.RootNode()
	if rootNode.HasError() {
		return nil, errors.NewIndexError(errors.ErrorTypeSyntax, "parse", fmt.Errorf("syntax error in %s", path)).WithFile(path)
	}

	facts := &fileFacts{
		Path:   path,
		Module: moduleName(root, path),
	}
	collectClasses(rootNode, source, facts, "")
	return facts, nil
}

// collectClasses walks the tree gathering class definitions. Nested
// classes qualify with their enclosing class name.
func collectClasses(node *tree_sitter.Node, source []byte, facts *fileFacts, enclosing string) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		target := child
		if child.Kind() == "decorated_definition" {
			if def := child.ChildByFieldName("definition"); def != nil {
				target = def
			}
		}
		if target.Kind() == "class_definition" {
			cf := extractClass(target, source, facts, enclosing)
			if cf != nil {
				facts.Classes = append(facts.Classes, *cf)
				if body := target.ChildByFieldName("body"); body != nil {
					collectClasses(body, source, facts, cf.ShortName)
				}
			}
			continue
		}
		// Classes defined under if/try blocks at module level still count.
		switch child.Kind() {
		case "if_statement", "try_statement", "block", "else_clause", "except_clause", "finally_clause":
			collectClasses(child, source, facts, enclosing)
		}
	}
}

func extractClass(node *tree_sitter.Node, source []byte, facts *fileFacts, enclosing string) *classFacts {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	short := nodeText(nameNode, source)
	if enclosing != "" {
		short = enclosing + "." + short
	}

	cf := &classFacts{
		FullName:  facts.Module + "." + short,
		ShortName: short,
		FilePath:  facts.Path,
		Line:      int(node.StartPosition().Row) + 1,
		RawBases:  extractBases(node, source),
	}

	if body := node.ChildByFieldName("body"); body != nil {
		for i := uint(0); i < body.NamedChildCount(); i++ {
			child := body.NamedChild(i)
			if child == nil {
				continue
			}
			def := child
			var decorators []string
			if child.Kind() == "decorated_definition" {
				if inner := child.ChildByFieldName("definition"); inner != nil {
					def = inner
					decorators = extractDecorators(child, source)
				}
			}
			if def.Kind() != "function_definition" {
				continue
			}
			if m := extractMethod(def, source, facts.Path, cf.ShortName, decorators); m != nil {
				cf.Methods = append(cf.Methods, *m)
			}
		}
	}
	return cf
}

// extractBases reads direct base-class names from the superclasses
// argument list, skipping keyword arguments (metaclass=...) and
// stripping subscripts (Generic[T] -> Generic).
func extractBases(node *tree_sitter.Node, source []byte) []string {
	superNode := node.ChildByFieldName("superclasses")
	if superNode == nil {
		return nil
	}
	var bases []string
	for i := uint(0); i < superNode.NamedChildCount(); i++ {
		child := superNode.NamedChild(i)
		if child == nil || child.Kind() == "keyword_argument" {
			continue
		}
		name := nodeText(child, source)
		if idx := strings.Index(name, "["); idx > 0 {
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		if name != "" && name != "object" {
			bases = append(bases, name)
		}
	}
	return bases
}

func extractMethod(def *tree_sitter.Node, source []byte, path, className string, decorators []string) *types.MethodLocation {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	loc := &types.MethodLocation{
		Name:       nodeText(nameNode, source),
		ClassName:  className,
		FilePath:   path,
		Line:       int(def.StartPosition().Row) + 1,
		Column:     int(def.StartPosition().Column),
		EndLine:    int(def.EndPosition().Row) + 1,
		EndColumn:  int(def.EndPosition().Column),
		Decorators: decorators,
	}

	// async def shows up as a leading "async" token child.
	for i := uint(0); i < def.ChildCount(); i++ {
		child := def.Child(i)
		if child != nil && child.Kind() == "async" {
			loc.IsAsync = true
			break
		}
	}

	for _, dec := range decorators {
		if dec == "abstractmethod" || strings.HasSuffix(dec, ".abstractmethod") {
			loc.IsAbstract = true
			break
		}
	}
	return loc
}

// extractDecorators reads decorator names from a decorated_definition,
// without the leading @ and without call arguments.
func extractDecorators(node *tree_sitter.Node, source []byte) []string {
	var decorators []string
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Kind() != "decorator" {
			continue
		}
		text := strings.TrimPrefix(nodeText(child, source), "@")
		if idx := strings.Index(text, "("); idx > 0 {
			text = text[:idx]
		}
		if text = strings.TrimSpace(text); text != "" {
			decorators = append(decorators, text)
		}
	}
	return decorators
}

func nodeText(node *tree_sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}
