package analyzer

import (
	"go/ast"

	"taskweave/internal/core"
)

// walker collects task references from one method body and queues
// receiver-local helper calls for the fixed point.
//
// References are admitted from three positions: bare identifiers, dotted
// package paths, and call receivers. Calls through any receiver other than
// the method's own are not followed.
type walker struct {
	analyzer *Analyzer
	desc     *core.Descriptor
	pkg      *parsedPackage

	found   map[string]*core.Descriptor
	visited map[string]bool
	queue   []string
}

func (w *walker) walkMethod(md *methodDecl) {
	if md.decl.Body == nil {
		return
	}
	recv := receiverName(md.decl)
	imports := importsOf(md.file)

	// Selector parts are handled at the SelectorExpr node; their child
	// idents must not also count as bare references.
	consumed := map[*ast.Ident]bool{}

	ast.Inspect(md.decl.Body, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.CallExpr:
			if sel, ok := node.Fun.(*ast.SelectorExpr); ok {
				if x, ok := sel.X.(*ast.Ident); ok && recv != "" && x.Name == recv {
					// Implicit-receiver call: follow the helper if it is
					// defined on this type, otherwise ignore the name.
					consumed[x] = true
					consumed[sel.Sel] = true
					if w.pkg.method(w.desc.Name, sel.Sel.Name) != nil && !w.visited[sel.Sel.Name] {
						w.queue = append(w.queue, sel.Sel.Name)
					}
					return true
				}
			}

		case *ast.SelectorExpr:
			x, ok := node.X.(*ast.Ident)
			if !ok {
				return true
			}
			consumed[x] = true
			consumed[node.Sel] = true
			if path, isPkg := imports[x.Name]; isPkg && ast.IsExported(node.Sel.Name) {
				w.resolve(path + "." + node.Sel.Name)
			}
			return true

		case *ast.Ident:
			// Only exported identifiers are candidate task references;
			// unexported names are overwhelmingly locals, and a task type
			// meant to be depended on across bodies is exported anyway.
			if consumed[node] || !ast.IsExported(node.Name) {
				return true
			}
			w.resolveBare(node.Name)
		}
		return true
	})
}

// resolveBare resolves a bare identifier: first within the context task's
// own package, then as a unique short name across the registry.
func (w *walker) resolveBare(name string) {
	if w.desc.PkgPath != "" && w.resolve(w.desc.PkgPath+"."+name) {
		return
	}
	if d, ok := w.analyzer.resolver.LookupShort(name); ok {
		w.admit(d)
	}
}

func (w *walker) resolve(qualified string) bool {
	d, ok := w.analyzer.resolver.Lookup(qualified)
	if !ok {
		return false
	}
	w.admit(d)
	return true
}

func (w *walker) admit(d *core.Descriptor) {
	w.found[d.QualifiedName()] = d
}

func receiverName(decl *ast.FuncDecl) string {
	if decl.Recv == nil || len(decl.Recv.List) == 0 {
		return ""
	}
	names := decl.Recv.List[0].Names
	if len(names) == 0 || names[0].Name == "_" {
		return ""
	}
	return names[0].Name
}
