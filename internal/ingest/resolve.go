package ingest

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Resolver maps raw import specifiers (as extracted by the parser) to
// repo-relative file paths of the scanned files. It is built once per
// ingestion with the set of known files and the workspace metadata found
// under the repository root. Only metadata files are read from disk; source
// files are probed against the known set.
type Resolver struct {
	repoRoot     string
	fileSet      map[string]bool
	dirIndex     map[string][]string
	tsWorkspaces map[string]*tsWorkspace
	goModule     string
	crates       map[string]string // crate name (underscored) → source root
}

// tsWorkspace holds metadata about a single npm/bun workspace package.
type tsWorkspace struct {
	dir            string            // repo-relative directory (e.g. "packages/db")
	mainFile       string            // default export target, repo-relative
	subpathExports map[string]string // "./queries" → "packages/db/src/queries.ts"
}

// NewResolver builds a Resolver from the repository root and the known
// repo-relative, slash-separated file paths.
func NewResolver(repoRoot string, knownFiles []string) *Resolver {
	r := &Resolver{
		repoRoot:     repoRoot,
		fileSet:      make(map[string]bool, len(knownFiles)),
		dirIndex:     make(map[string][]string),
		tsWorkspaces: make(map[string]*tsWorkspace),
		crates:       make(map[string]string),
	}
	for _, f := range knownFiles {
		r.fileSet[f] = true
		dir := path.Dir(f)
		r.dirIndex[dir] = append(r.dirIndex[dir], f)
	}
	for dir := range r.dirIndex {
		sort.Strings(r.dirIndex[dir])
	}

	r.scanTSWorkspaces()
	r.scanGoMod()
	r.scanCargo()
	return r
}

// Resolve returns the files an import in fromFile refers to, or nil for
// external and unresolvable imports. A Go package import resolves to every
// non-test file of the package directory.
func (r *Resolver) Resolve(spec, fromFile string, lang entity.Language) []string {
	var (
		resolved string
		ok       bool
	)
	switch lang {
	case entity.LangGo:
		return r.resolveGo(spec)
	case entity.LangTypeScript, entity.LangJavaScript:
		resolved, ok = r.resolveTS(spec, fromFile)
	case entity.LangPython:
		resolved, ok = r.resolvePython(spec, fromFile)
	case entity.LangRust:
		resolved, ok = r.resolveRust(spec, fromFile)
	}
	if !ok || resolved == fromFile {
		return nil
	}
	return []string{resolved}
}

// --- TypeScript resolution ---

var tsExtensions = []string{".ts", ".tsx", ".js", ".jsx", "/index.ts", "/index.tsx", "/index.js"}

func (r *Resolver) resolveTS(spec, fromFile string) (string, bool) {
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		base := path.Join(path.Dir(fromFile), spec)
		// "./util.js" in TypeScript sources names util.ts.
		if ext := path.Ext(base); ext == ".js" || ext == ".jsx" {
			if p, ok := r.probeFile(strings.TrimSuffix(base, ext), tsExtensions); ok {
				return p, true
			}
		}
		return r.probeFile(base, tsExtensions)
	}
	return r.resolveTSWorkspace(spec)
}

func (r *Resolver) resolveTSWorkspace(spec string) (string, bool) {
	if ws, ok := r.tsWorkspaces[spec]; ok {
		return ws.mainFile, ws.mainFile != ""
	}

	// "@scope/pkg/sub/path" → ("@scope/pkg", "./sub/path"); "pkg/sub" → ("pkg", "./sub").
	var pkgName, subpath string
	rest := spec
	if strings.HasPrefix(spec, "@") {
		scope, after, found := strings.Cut(spec, "/")
		if !found {
			return "", false
		}
		name, sub, found := strings.Cut(after, "/")
		if !found {
			return "", false
		}
		pkgName, rest = scope+"/"+name, sub
	} else {
		name, sub, found := strings.Cut(spec, "/")
		if !found {
			return "", false
		}
		pkgName, rest = name, sub
	}
	subpath = "./" + rest

	ws, ok := r.tsWorkspaces[pkgName]
	if !ok {
		return "", false
	}
	if target, ok := ws.subpathExports[subpath]; ok {
		return target, true
	}
	return r.probeFile(path.Join(ws.dir, rest), tsExtensions)
}

// --- Go resolution ---

func (r *Resolver) resolveGo(spec string) []string {
	if r.goModule == "" {
		return nil
	}
	var relDir string
	switch {
	case spec == r.goModule:
		relDir = "."
	case strings.HasPrefix(spec, r.goModule+"/"):
		relDir = strings.TrimPrefix(spec, r.goModule+"/")
	default:
		return nil
	}

	var out []string
	for _, f := range r.dirIndex[relDir] {
		if strings.HasSuffix(f, ".go") && !strings.HasSuffix(f, "_test.go") {
			out = append(out, f)
		}
	}
	return out
}

// --- Python resolution ---

var pyExtensions = []string{".py", "/__init__.py"}

func (r *Resolver) resolvePython(spec, fromFile string) (string, bool) {
	if !strings.HasPrefix(spec, ".") {
		// Absolute imports resolve against the repository root and a
		// conventional src/ layout; anything else is an installed package.
		rel := strings.ReplaceAll(spec, ".", "/")
		for _, base := range []string{rel, path.Join("src", rel)} {
			if p, ok := r.probeFile(base, pyExtensions); ok {
				return p, true
			}
		}
		return "", false
	}

	dots := len(spec) - len(strings.TrimLeft(spec, "."))
	modulePart := spec[dots:]

	// One dot is the current package, each further dot one parent up.
	baseDir := path.Dir(fromFile)
	for i := 1; i < dots; i++ {
		baseDir = path.Dir(baseDir)
	}
	if modulePart == "" {
		return r.probeFile(path.Join(baseDir, "__init__"), []string{".py"})
	}
	return r.probeFile(path.Join(baseDir, strings.ReplaceAll(modulePart, ".", "/")), pyExtensions)
}

// --- Rust resolution ---

var rsExtensions = []string{".rs", "/mod.rs"}

func (r *Resolver) resolveRust(spec, fromFile string) (string, bool) {
	// "crate::model::{Repository, User}" → "crate::model"; "a::b as c" → "a::b".
	if idx := strings.Index(spec, "::{"); idx != -1 {
		spec = spec[:idx]
	}
	if idx := strings.Index(spec, " as "); idx != -1 {
		spec = spec[:idx]
	}
	spec = strings.TrimPrefix(strings.TrimSpace(spec), "::")

	head, rest, _ := strings.Cut(spec, "::")
	var roots []string
	switch head {
	case "crate":
		roots = append(roots, "src", ".")
		if srcDir := findCrateRoot(fromFile); srcDir != "" {
			roots = append([]string{srcDir}, roots...)
		}
	case "self":
		roots = []string{path.Dir(fromFile)}
	case "super":
		roots = []string{path.Dir(path.Dir(fromFile))}
	default:
		root, ok := r.crates[head]
		if !ok {
			return "", false
		}
		roots = []string{root}
	}
	if rest == "" {
		return "", false
	}

	// The path may end in an item rather than a module: drop trailing
	// segments until a module file matches.
	segs := strings.Split(rest, "::")
	for n := len(segs); n > 0; n-- {
		rel := strings.Join(segs[:n], "/")
		for _, root := range roots {
			if p, ok := r.probeFile(path.Join(root, rel), rsExtensions); ok {
				return p, true
			}
		}
	}
	return "", false
}

// findCrateRoot walks up from a file path to the nearest "src" directory,
// the conventional Rust crate source root.
func findCrateRoot(filePath string) string {
	dir := path.Dir(filePath)
	for dir != "." && dir != "/" && dir != "" {
		if path.Base(dir) == "src" {
			return dir
		}
		dir = path.Dir(dir)
	}
	return ""
}

// --- Shared helpers ---

// probeFile checks if basePath, as is or with one of the extensions
// appended, is a known file. No filesystem I/O.
func (r *Resolver) probeFile(basePath string, extensions []string) (string, bool) {
	basePath = path.Clean(basePath)
	if r.fileSet[basePath] {
		return basePath, true
	}
	for _, ext := range extensions {
		if candidate := basePath + ext; r.fileSet[candidate] {
			return candidate, true
		}
	}
	return "", false
}

// --- Workspace / module scanning ---

// packageJSON is a minimal representation for reading package.json files.
type packageJSON struct {
	Name       string          `json:"name"`
	Main       string          `json:"main"`
	Workspaces json.RawMessage `json:"workspaces"`
	Exports    json.RawMessage `json:"exports"`
}

func (r *Resolver) scanTSWorkspaces() {
	data, err := os.ReadFile(filepath.Join(r.repoRoot, "package.json"))
	if err != nil {
		return
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return
	}

	for _, pattern := range parseWorkspacePatterns(pkg.Workspaces) {
		matches, err := filepath.Glob(filepath.Join(r.repoRoot, filepath.FromSlash(pattern)))
		if err != nil {
			continue
		}
		for _, dir := range matches {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				r.loadWorkspacePackage(dir)
			}
		}
	}
}

// parseWorkspacePatterns accepts ["packages/*"] and {"packages": ["packages/*"]}.
func parseWorkspacePatterns(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Packages
	}
	return nil
}

func (r *Resolver) loadWorkspacePackage(absDir string) {
	data, err := os.ReadFile(filepath.Join(absDir, "package.json"))
	if err != nil {
		return
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil || pkg.Name == "" {
		return
	}
	relDir, err := filepath.Rel(r.repoRoot, absDir)
	if err != nil {
		return
	}

	ws := &tsWorkspace{
		dir:            filepath.ToSlash(relDir),
		subpathExports: make(map[string]string),
	}
	r.parseExports(ws, pkg.Exports)

	if ws.mainFile == "" && pkg.Main != "" {
		if p, ok := r.probeFile(path.Join(ws.dir, pkg.Main), tsExtensions); ok {
			ws.mainFile = p
		}
	}
	if ws.mainFile == "" {
		for _, try := range []string{path.Join(ws.dir, "src", "index"), path.Join(ws.dir, "index")} {
			if p, ok := r.probeFile(try, tsExtensions); ok {
				ws.mainFile = p
				break
			}
		}
	}
	r.tsWorkspaces[pkg.Name] = ws
}

func (r *Resolver) parseExports(ws *tsWorkspace, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if p, ok := r.probeFile(path.Join(ws.dir, str), tsExtensions); ok {
			ws.mainFile = p
		}
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return
	}
	for key, val := range obj {
		target := resolveExportValue(val)
		if target == "" {
			continue
		}
		p, ok := r.probeFile(path.Join(ws.dir, target), tsExtensions)
		if !ok {
			continue
		}
		if key == "." {
			ws.mainFile = p
		} else {
			ws.subpathExports[key] = p
		}
	}
}

// resolveExportValue extracts a file path from an export value: a string
// or a conditional object preferring "import", then "default", then "require".
func resolveExportValue(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"import", "default", "require"} {
		if v, ok := obj[key]; ok {
			return resolveExportValue(v)
		}
	}
	return ""
}

func (r *Resolver) scanGoMod() {
	data, err := os.ReadFile(filepath.Join(r.repoRoot, "go.mod"))
	if err != nil {
		return
	}
	r.goModule = modfile.ModulePath(data)
}

// cargoManifest is the part of Cargo.toml naming the crate.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Lib struct {
		Name string `toml:"name"`
	} `toml:"lib"`
}

// scanCargo registers every crate whose src/lib.rs or src/main.rs was
// scanned, keyed by the name `use` statements refer to it by.
func (r *Resolver) scanCargo() {
	for dir, files := range r.dirIndex {
		if path.Base(dir) != "src" {
			continue
		}
		var entry bool
		for _, f := range files {
			if b := path.Base(f); b == "lib.rs" || b == "main.rs" {
				entry = true
				break
			}
		}
		if !entry {
			continue
		}
		crateDir := path.Dir(dir)
		data, err := os.ReadFile(filepath.Join(r.repoRoot, filepath.FromSlash(crateDir), "Cargo.toml"))
		if err != nil {
			continue
		}
		var m cargoManifest
		if err := toml.Unmarshal(data, &m); err != nil {
			continue
		}
		name := m.Lib.Name
		if name == "" {
			name = m.Package.Name
		}
		if name != "" {
			r.crates[strings.ReplaceAll(name, "-", "_")] = dir
		}
	}
}
