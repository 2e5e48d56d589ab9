package passes

import (
	"bytes"
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

var (
	tsTypeDecl   = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:default\s+)?(?:declare\s+)?(?:abstract\s+)?(interface|type|class|enum)\s+([A-Za-z_$][\w$]*)`)
	pyClassDecl  = regexp.MustCompile(`(?m)^class\s+([A-Za-z][\w]*)`)
	rustTypeDecl = regexp.MustCompile(`(?m)^[ \t]*pub\s+(struct|enum|trait|type)\s+([A-Za-z_]\w*)`)
	identifier   = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]+\b`)
)

// extractTypes records exported types. With several repositories only
// the shared ones are kept: a type is shared when its name is declared in
// more than one repository or referenced from a repository other than
// the one declaring it. A single repository keeps every exported type.
func extractTypes(ctx context.Context, ws workspace.Writer, files []sourceFile, log logrus.FieldLogger) error {
	var decls []workspace.SharedType
	refs := make(map[string]map[string]bool) // type name -> referencing repos

	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			log.WithError(err).WithField("file", f.rel).Warn("Skipping unreadable file")
			continue
		}

		found, err := declaredTypes(f, data)
		if err != nil {
			log.WithError(err).WithField("file", f.rel).Debug("Skipping unparseable file")
		}
		decls = append(decls, found...)

		for _, name := range identifier.FindAll(data, -1) {
			n := string(name)
			if refs[n] == nil {
				refs[n] = make(map[string]bool)
			}
			refs[n][f.repo] = true
		}
	}

	declaredIn := make(map[string]map[string]bool)
	for _, d := range decls {
		if declaredIn[d.Name] == nil {
			declaredIn[d.Name] = make(map[string]bool)
		}
		declaredIn[d.Name][d.Location.Repo] = true
	}

	keepAll := ws.Metadata().Mode == workspace.ModeSingle
	kept := 0
	for _, t := range decls {
		for repo := range refs[t.Name] {
			if !declaredIn[t.Name][repo] {
				t.UsedBy = append(t.UsedBy, repo)
			}
		}
		if !keepAll && len(declaredIn[t.Name]) < 2 && len(t.UsedBy) == 0 {
			continue
		}
		ws.AddSharedType(t)
		kept++
	}

	log.WithFields(logrus.Fields{"declared": len(decls), "recorded": kept}).Debug("Extracted types")
	return nil
}

// declaredTypes returns the exported types declared in one file.
func declaredTypes(f sourceFile, data []byte) ([]workspace.SharedType, error) {
	switch f.language {
	case "Go":
		if strings.HasSuffix(f.rel, "_test.go") {
			return nil, nil
		}
		return goTypes(f, data)
	case "TypeScript", "JavaScript":
		return regexTypes(f, data, tsTypeDecl, 1, 2, exportedAny), nil
	case "Rust":
		return regexTypes(f, data, rustTypeDecl, 1, 2, exportedAny), nil
	case "Python":
		return regexTypes(f, data, pyClassDecl, -1, 1, exportedPython), nil
	}
	return nil, nil
}

func goTypes(f sourceFile, data []byte) ([]workspace.SharedType, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, f.path, data, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var out []workspace.SharedType
	for _, decl := range node.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok || !ts.Name.IsExported() {
				continue
			}
			t := workspace.SharedType{
				Name:     ts.Name.Name,
				Kind:     "type",
				Language: f.language,
				Location: f.loc(fset.Position(ts.Pos()).Line),
			}
			switch typ := ts.Type.(type) {
			case *ast.StructType:
				t.Kind = "struct"
				t.Fields = exportedNames(typ.Fields)
			case *ast.InterfaceType:
				t.Kind = "interface"
				t.Fields = exportedNames(typ.Methods)
			}
			if ts.Assign.IsValid() {
				t.Kind = "alias"
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// exportedNames lists the exported field or method names of a field list.
// Embedded fields are listed by their type name.
func exportedNames(fields *ast.FieldList) []string {
	if fields == nil {
		return nil
	}
	var names []string
	for _, field := range fields.List {
		if len(field.Names) == 0 {
			if id := embeddedName(field.Type); id != "" && ast.IsExported(id) {
				names = append(names, id)
			}
			continue
		}
		for _, n := range field.Names {
			if n.IsExported() {
				names = append(names, n.Name)
			}
		}
	}
	return names
}

func embeddedName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return embeddedName(e.X)
	case *ast.SelectorExpr:
		return e.Sel.Name
	}
	return ""
}

func exportedAny(string) bool { return true }

func exportedPython(name string) bool {
	return !strings.HasPrefix(name, "_") && unicode.IsUpper(rune(name[0]))
}

// regexTypes extracts declarations with re. kindGroup < 0 means "class".
func regexTypes(f sourceFile, data []byte, re *regexp.Regexp, kindGroup, nameGroup int, exported func(string) bool) []workspace.SharedType {
	var out []workspace.SharedType
	for _, m := range re.FindAllSubmatchIndex(data, -1) {
		name := string(data[m[2*nameGroup]:m[2*nameGroup+1]])
		if !exported(name) {
			continue
		}
		kind := "class"
		if kindGroup >= 0 {
			kind = string(data[m[2*kindGroup]:m[2*kindGroup+1]])
		}
		out = append(out, workspace.SharedType{
			Name:     name,
			Kind:     kind,
			Language: f.language,
			Location: f.loc(lineAt(data, m[0])),
		})
	}
	return out
}

// lineAt returns the 1-based line containing offset.
func lineAt(data []byte, offset int) int {
	return bytes.Count(data[:offset], []byte{'\n'}) + 1
}
