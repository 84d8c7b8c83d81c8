// Package pathutil normalises document paths and validates export targets.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/model"
)

var exportNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Normalize cleans path and converts it to NFC so that the same file named
// through different Unicode forms (macOS reports NFD) maps to one key.
func Normalize(path string) string {
	return norm.NFC.String(filepath.Clean(path))
}

// Identity returns the registry key for a document: its absolute,
// cleaned, NFC-normalised path.
func Identity(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errclass.ErrDocumentUnsupported.WithMessage("document path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return Normalize(abs), nil
}

// DetectLanguage maps a file extension to the language used to render it.
func DetectLanguage(path string) (model.Language, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(path))) {
	case ".dot", ".gv":
		return model.LanguageDot, nil
	case ".md", ".markdown":
		return model.LanguageMarkdown, nil
	}
	return "", errclass.ErrDocumentUnsupported.WithMessagef("no renderer for %s", filepath.Base(path))
}

// ValidateExportName checks a file name supplied by a view for export.
func ValidateExportName(name string) error {
	if name == "" {
		return errclass.ErrExportInvalid.WithMessage("name must not be empty")
	}

	name = norm.NFC.String(name)

	if name == "." || strings.Contains(name, "..") {
		return errclass.ErrExportInvalid.WithMessagef("name must not contain '..': %s", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return errclass.ErrExportInvalid.WithMessagef("name must not contain separators: %s", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrExportInvalid.WithMessagef("name must not contain control characters: %q", name)
		}
	}
	if !exportNameRegex.MatchString(name) {
		return errclass.ErrExportInvalid.WithMessagef("name must match [a-zA-Z0-9._-]+: %s", name)
	}
	return nil
}

// ValidatePathSafety verifies targetPath does not escape root.
func ValidatePathSafety(root, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve export root: %v", err)
	}

	// the target usually does not exist yet; resolve its closest ancestor
	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
		}
	}

	if !strings.HasPrefix(resolvedTarget+string(filepath.Separator), resolvedRoot+string(filepath.Separator)) &&
		resolvedTarget != resolvedRoot {
		return errclass.ErrPathEscape.WithMessagef("path escapes export root: %s", targetPath)
	}
	return nil
}

func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) && dir != path {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
