package pathutil_test

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dotpreview-project/dotpreview/pkg/pathutil"
)

// FuzzValidateExportName checks that accepted names never leave the export
// directory.
func FuzzValidateExportName(f *testing.F) {
	f.Add("")
	f.Add("graph.svg")
	f.Add("..")
	f.Add("../escape.svg")
	f.Add(`dir\file.dot`)
	f.Add("name\x00null")
	f.Add("tab\tname")
	f.Add(".hidden.dot")

	f.Fuzz(func(t *testing.T, name string) {
		if err := pathutil.ValidateExportName(name); err != nil {
			return
		}
		if strings.ContainsAny(name, `/\`) || name == ".." {
			t.Fatalf("accepted unsafe name %q", name)
		}
		root := filepath.Join(t.TempDir(), "exports")
		if filepath.Dir(filepath.Join(root, name)) != root && name != "." {
			t.Fatalf("name %q escapes %s", name, root)
		}
	})
}

// FuzzIdentity checks that identities are stable under re-normalisation.
func FuzzIdentity(f *testing.F) {
	f.Add("graph.dot")
	f.Add("/tmp/../tmp/graph.gv")
	f.Add("café.md")
	f.Add("./a//b/../c.dot")

	f.Fuzz(func(t *testing.T, path string) {
		if !utf8.ValidString(path) || strings.ContainsRune(path, 0) {
			t.Skip()
		}
		id, err := pathutil.Identity(path)
		if err != nil {
			return
		}
		again, err := pathutil.Identity(id)
		if err != nil {
			t.Fatalf("identity %q rejected: %v", id, err)
		}
		if again != id {
			t.Fatalf("identity not stable: %q -> %q", id, again)
		}
	})
}
