package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

// Enums are the string types whose values go on the wire or into the
// ledger. A typo'd literal compiles fine and is only caught at ingestion.
var Enums = map[string]bool{
	"ReviewSystem": true,
	"Source":       true,
	"Status":       true,
	"FailureKind":  true,
	"Disposition":  true,
}

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "checks that enum fields are set from their constants, not string literals",
	Run:  run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.AssignStmt:
				for i, lhs := range n.Lhs {
					if i >= len(n.Rhs) {
						continue
					}
					sel, ok := lhs.(*ast.SelectorExpr)
					if ok && isEnum(pass.TypesInfo.TypeOf(sel)) && isStringLiteral(n.Rhs[i]) {
						pass.Reportf(n.Pos(), "enum field %s assigned string literal; use defined constant instead", sel.Sel.Name)
					}
				}

			case *ast.KeyValueExpr:
				key, ok := n.Key.(*ast.Ident)
				if ok && isEnum(pass.TypesInfo.TypeOf(n.Value)) && isStringLiteral(n.Value) {
					pass.Reportf(n.Pos(), "enum field %s set to string literal; use defined constant instead", key.Name)
				}
			}
			return true
		})
	}
	return nil, nil
}

func isEnum(t types.Type) bool {
	named, ok := t.(*types.Named)
	return ok && Enums[named.Obj().Name()]
}

func isStringLiteral(expr ast.Expr) bool {
	lit, ok := expr.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}
