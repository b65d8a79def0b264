// Package analyzer discovers task dependencies by static analysis.
//
// A task's dependencies are the other registered task types referenced in
// the source of its Run method (Impl for sections) and in helper methods on
// the same type that the body calls through its own receiver. No user code
// runs during analysis.
//
// The analysis is a pure function of source text, cached per task and
// invalidatable. Failures degrade: a parse error, a missing source file, or
// an unlocatable method yields an empty dependency set and a log line, never
// an aborted run — unless strict mode is enabled, in which case the failure
// surfaces as a *core.BuildError.
package analyzer

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"taskweave/internal/core"
)

// Resolver resolves identifier references to registered task descriptors.
// Only registered types are admitted, which is how "descends from the Task
// base" is enforced: registration requires the marker interface.
type Resolver interface {
	// Lookup resolves a fully qualified "<pkgpath>.<Name>" reference.
	Lookup(qualified string) (*core.Descriptor, bool)
	// LookupShort resolves a bare type name when exactly one registered
	// task carries it.
	LookupShort(name string) (*core.Descriptor, bool)
}

// Analyzer computes and caches per-task dependency sets.
type Analyzer struct {
	resolver Resolver
	logger   hclog.Logger
	strict   bool

	mu    sync.Mutex
	cache map[string][]*core.Descriptor
}

// New builds an Analyzer. With strict enabled, analysis failures return
// *core.BuildError instead of degrading to an empty set.
func New(resolver Resolver, logger hclog.Logger, strict bool) *Analyzer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Analyzer{
		resolver: resolver,
		logger:   logger.Named("analyzer"),
		strict:   strict,
		cache:    make(map[string][]*core.Descriptor),
	}
}

// Dependencies returns the dependency set of d, in qualified-name order.
func (a *Analyzer) Dependencies(d *core.Descriptor) ([]*core.Descriptor, error) {
	name := d.QualifiedName()

	a.mu.Lock()
	if deps, ok := a.cache[name]; ok {
		a.mu.Unlock()
		return deps, nil
	}
	a.mu.Unlock()

	deps, err := a.analyze(d)
	if err != nil {
		if a.strict {
			return nil, &core.BuildError{Task: name, Cause: err}
		}
		a.logger.Warn("dependency analysis degraded to empty set",
			"task", name, "error", err)
		deps = nil
	}

	a.mu.Lock()
	a.cache[name] = deps
	a.mu.Unlock()
	return deps, nil
}

// Invalidate drops the cached set for one task.
func (a *Analyzer) Invalidate(qualified string) {
	a.mu.Lock()
	delete(a.cache, qualified)
	a.mu.Unlock()
}

// InvalidateAll drops every cached set.
func (a *Analyzer) InvalidateAll() {
	a.mu.Lock()
	a.cache = make(map[string][]*core.Descriptor)
	a.mu.Unlock()
}

func (a *Analyzer) analyze(d *core.Descriptor) ([]*core.Descriptor, error) {
	if d.RunPC == 0 {
		// No run body, no dependencies.
		return nil, nil
	}

	fn := runtime.FuncForPC(d.RunPC)
	if fn == nil {
		return nil, errors.Errorf("no function info for pc %#x", d.RunPC)
	}
	file, line := fn.FileLine(d.RunPC)
	if file == "" {
		return nil, errors.New("no source location for run body")
	}

	pkg, err := parsePackageDir(filepath.Dir(file))
	if err != nil {
		return nil, err
	}

	method := methodNameFor(d)
	target := pkg.enclosingMethod(file, line, d.Name, method)
	if target == nil {
		return nil, errors.Errorf("cannot locate %s.%s at %s:%d", d.Name, method, filepath.Base(file), line)
	}

	w := &walker{
		analyzer: a,
		desc:     d,
		pkg:      pkg,
		found:    map[string]*core.Descriptor{},
		visited:  map[string]bool{},
	}
	w.walkMethod(target)

	// Fixed point over receiver-local helper calls.
	for len(w.queue) > 0 {
		helper := w.queue[0]
		w.queue = w.queue[1:]
		if w.visited[helper] {
			continue
		}
		w.visited[helper] = true
		if decl := pkg.method(d.Name, helper); decl != nil {
			w.walkMethod(decl)
		}
	}

	names := make([]string, 0, len(w.found))
	for n := range w.found {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]*core.Descriptor, len(names))
	for i, n := range names {
		out[i] = w.found[n]
	}
	return out, nil
}

func methodNameFor(d *core.Descriptor) string {
	if d.IsSection {
		return "Impl"
	}
	return "Run"
}

// parsedPackage is one parsed source directory: every file AST plus an index
// of method declarations by (receiver type, method name).
type parsedPackage struct {
	fset    *token.FileSet
	files   map[string]*ast.File       // by absolute path
	methods map[[2]string]*methodDecl  // (type, method) -> decl
}

type methodDecl struct {
	file *ast.File
	decl *ast.FuncDecl
}

var (
	pkgCacheMu sync.Mutex
	pkgCache   = map[string]*parsedPackage{}
)

// parsePackageDir parses every .go file in dir. Results are cached per
// directory for the process lifetime: analysis is a function of source text,
// which does not change underneath a running binary.
func parsePackageDir(dir string) (*parsedPackage, error) {
	pkgCacheMu.Lock()
	if p, ok := pkgCache[dir]; ok {
		pkgCacheMu.Unlock()
		return p, nil
	}
	pkgCacheMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading source dir %s", dir)
	}

	p := &parsedPackage{
		fset:    token.NewFileSet(),
		files:   map[string]*ast.File{},
		methods: map[[2]string]*methodDecl{},
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := parser.ParseFile(p.fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
		p.files[path] = f
		for _, decl := range f.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv == nil || len(fd.Recv.List) == 0 {
				continue
			}
			recv := receiverTypeName(fd.Recv.List[0].Type)
			if recv == "" {
				continue
			}
			key := [2]string{recv, fd.Name.Name}
			if _, dup := p.methods[key]; !dup {
				p.methods[key] = &methodDecl{file: f, decl: fd}
			}
		}
	}
	if len(p.files) == 0 {
		return nil, errors.Errorf("no Go sources in %s", dir)
	}

	pkgCacheMu.Lock()
	pkgCache[dir] = p
	pkgCacheMu.Unlock()
	return p, nil
}

// enclosingMethod returns the declaration of typeName.method whose span
// encloses (file, line).
func (p *parsedPackage) enclosingMethod(file string, line int, typeName, method string) *methodDecl {
	md, ok := p.methods[[2]string{typeName, method}]
	if !ok {
		return nil
	}
	start := p.fset.Position(md.decl.Pos())
	end := p.fset.Position(md.decl.End())
	if start.Filename != file || line < start.Line || line > end.Line {
		return nil
	}
	return md
}

func (p *parsedPackage) method(typeName, method string) *methodDecl {
	return p.methods[[2]string{typeName, method}]
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	default:
		return ""
	}
}

// importsOf maps each file-local package alias to its import path.
func importsOf(f *ast.File) map[string]string {
	out := map[string]string{}
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := filepath.Base(path)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		out[name] = path
	}
	return out
}
