package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// loadKDL overlays settings from a .ovi.kdl file onto cfg. A missing
// file is not an error.
//
// Format:
//
//	project {
//	    root "."
//	    name "myproject"
//	}
//	index {
//	    max_file_size 10485760
//	    respect_gitignore true
//	    watch_mode true
//	    snapshot_path ".ovi/inheritance-index.json"
//	}
//	performance {
//	    debounce_ms 3000
//	    batch_size 50
//	    max_concurrent 10
//	}
//	exclude "**/generated/**" "**/migrations/**"
func loadKDL(cfg *Config, kdlPath string) error {
	content, err := os.ReadFile(kdlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", kdlPath, err)
	}

	doc, err := kdl.Parse(strings.NewReader(string(content)))
	if err != nil {
		return fmt.Errorf("failed to parse KDL config %s: %w", kdlPath, err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.MaxFileSize = int64(v)
					}
				case "respect_gitignore":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.RespectGitignore = b
					}
				case "watch_mode":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.WatchMode = b
					}
				case "snapshot_path":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.SnapshotPath = s
					}
				}
			}
		case "performance":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.DebounceMs = v
					}
				case "batch_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.BatchSize = v
					}
				case "max_concurrent":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.MaxConcurrent = v
					}
				}
			}
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		}
	}

	// Resolve paths relative to the directory containing the .ovi.kdl
	// so the config behaves the same regardless of the working directory.
	baseDir := filepath.Dir(kdlPath)
	if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(baseDir, cfg.Project.Root))
	}
	if !filepath.IsAbs(cfg.Index.SnapshotPath) {
		cfg.Index.SnapshotPath = filepath.Clean(filepath.Join(cfg.Project.Root, cfg.Index.SnapshotPath))
	}

	return nil
}

// Helper functions leveraging the kdl-go document model.
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	// Block format: exclude { "pattern" } puts strings in child nodes
	// whose name is the string value.
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
