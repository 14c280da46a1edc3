package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/logging"
	"github.com/dusk-indust/parseltongue/internal/parse"
)

// Source produces the facts of one ingestion.
type Source interface {
	Facts(ctx context.Context) ([]EntityFact, []EdgeFact, error)
}

// RepoSource walks a directory tree and parses every supported file.
type RepoSource struct {
	root        string
	parser      parse.Parser
	languages   map[entity.Language]bool
	excludeDirs map[string]bool
	workers     int
	logger      logrus.FieldLogger
}

// RepoOption configures a RepoSource.
type RepoOption func(*RepoSource)

// WithLanguages restricts parsing to the named languages. Empty means all
// languages the parser supports.
func WithLanguages(langs ...string) RepoOption {
	return func(r *RepoSource) {
		for _, l := range langs {
			if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
				r.languages[entity.Language(l)] = true
			}
		}
	}
}

// WithExcludeDirs skips directories with any of the given base names.
func WithExcludeDirs(dirs ...string) RepoOption {
	return func(r *RepoSource) {
		for _, d := range dirs {
			r.excludeDirs[d] = true
		}
	}
}

// WithWorkers bounds parallel parsing. Zero or less means one per CPU.
func WithWorkers(n int) RepoOption {
	return func(r *RepoSource) { r.workers = n }
}

// WithSourceLogger sets the logger for walk and parse diagnostics.
func WithSourceLogger(l logrus.FieldLogger) RepoOption {
	return func(r *RepoSource) { r.logger = logging.OrDiscard(l) }
}

// NewRepoSource returns a source for the tree under root.
func NewRepoSource(root string, p parse.Parser, opts ...RepoOption) *RepoSource {
	r := &RepoSource{
		root:        root,
		parser:      p,
		languages:   make(map[entity.Language]bool),
		excludeDirs: make(map[string]bool),
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.NumCPU()
	}
	if len(r.languages) == 0 {
		for _, l := range p.SupportedLanguages() {
			r.languages[l] = true
		}
	}
	return r
}

type sourceFile struct {
	rel  string
	abs  string
	lang entity.Language
}

// Files lists the repository-relative paths RepoSource would parse.
func (r *RepoSource) Files() ([]string, error) {
	files, err := r.walk()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.rel
	}
	return out, nil
}

func (r *RepoSource) walk() ([]sourceFile, error) {
	info, err := os.Stat(r.root)
	if err != nil {
		return nil, fmt.Errorf("cannot access repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root is not a directory: %s", r.root)
	}

	var files []sourceFile
	err = filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.WithError(err).WithField("path", p).Debug("skipping inaccessible path")
			return nil
		}
		if d.IsDir() {
			if p != r.root && r.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		lang, ok := parse.LanguageForPath(p)
		if !ok || !r.languages[lang] {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			rel = p
		}
		files = append(files, sourceFile{rel: filepath.ToSlash(rel), abs: p, lang: lang})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func (r *RepoSource) skipDir(name string) bool {
	return r.excludeDirs[name] || (strings.HasPrefix(name, ".") && name != ".")
}

// Facts parses every file in parallel and converts the results. A file
// that cannot be read or parsed is logged and skipped.
func (r *RepoSource) Facts(ctx context.Context) ([]EntityFact, []EdgeFact, error) {
	files, err := r.walk()
	if err != nil {
		return nil, nil, err
	}

	results := make([]*parse.Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(f.abs)
			if err != nil {
				r.logger.WithError(err).WithField("file", f.rel).Warn("skipping unreadable file")
				return nil
			}
			res, err := r.parser.Parse(gctx, f.rel, src, f.lang)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.WithError(err).WithField("file", f.rel).Warn("skipping unparseable file")
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	known := make([]string, 0, len(files))
	for _, f := range files {
		known = append(known, f.rel)
	}
	resolver := NewResolver(r.root, known)

	var (
		entities []EntityFact
		edges    []EdgeFact
	)
	for i, res := range results {
		if res == nil {
			continue
		}
		src, err := os.ReadFile(files[i].abs)
		if err != nil {
			continue
		}
		ents, eds := Convert(res, string(src), resolver)
		entities = append(entities, ents...)
		edges = append(edges, eds...)
	}
	r.logger.WithFields(logrus.Fields{
		"root":     r.root,
		"files":    len(files),
		"entities": len(entities),
		"edges":    len(edges),
	}).Debug("repository parsed")
	return entities, edges, nil
}

// Convert turns one parse result into facts. Every file gets a module
// entity named by its path, which contains the file's top-level symbols
// and owns module-scope references. Imports the resolver maps to
// repository files become module-to-module Uses edges; resolver may be nil.
func Convert(res *parse.Result, source string, resolver *Resolver) ([]EntityFact, []EdgeFact) {
	modClass := entity.ClassCode
	if res.TestFile {
		modClass = entity.ClassTest
	}
	module := Ref{FilePath: res.Path, Name: res.Path, Line: 1}
	entities := []EntityFact{{
		Language:    res.Language,
		Kind:        entity.KindModule,
		Name:        res.Path,
		FilePath:    res.Path,
		Lines:       entity.LineRange{Start: 1, End: max(res.LOC, 1)},
		Signature:   entity.InterfaceSignature{ModulePath: res.Path},
		CurrentCode: source,
		Class:       modClass,
	}}
	var edges []EdgeFact

	for _, sym := range res.Symbols {
		f := EntityFact{
			Language:    res.Language,
			Kind:        sym.Kind,
			Name:        sym.Name,
			FilePath:    res.Path,
			Lines:       sym.Lines,
			CurrentCode: sym.Code,
			Class:       sym.Class,
		}
		if sym.Signature != nil {
			f.Signature = *sym.Signature
		}
		entities = append(entities, f)
		if !strings.Contains(sym.Name, ".") && !strings.Contains(sym.Name, "::") {
			edges = append(edges, EdgeFact{
				Source: module,
				Target: Ref{FilePath: res.Path, Name: sym.Name, Line: sym.Lines.Start},
				Type:   entity.EdgeContains,
			})
		}
	}

	for _, ref := range res.References {
		src := module
		if ref.From != "" {
			src = Ref{FilePath: res.Path, Name: ref.From, Line: ref.FromLine}
		}
		edges = append(edges, EdgeFact{
			Source: src,
			Target: Ref{FilePath: res.Path, Name: ref.To},
			Type:   ref.Type,
		})
	}

	if resolver != nil {
		for _, spec := range res.Imports {
			for _, target := range resolver.Resolve(spec, res.Path, res.Language) {
				if target == res.Path {
					continue
				}
				edges = append(edges, EdgeFact{
					Source: module,
					Target: Ref{FilePath: target, Name: target, Line: 1},
					Type:   entity.EdgeUses,
				})
			}
		}
	}
	return entities, edges
}
