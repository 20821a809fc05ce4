package stopkey

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const hotkeyModule = "golang.design/x/hotkey"

// The hotkey library panics during init without a display, so only the
// desktop-tagged file here may import it.
func TestOnlyDesktopBuildImportsHotkey(t *testing.T) {
	root := filepath.Join("..", "..")
	var importers []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.ImportsOnly|parser.ParseComments)
		if err != nil {
			return err
		}
		for _, imp := range f.Imports {
			if p, _ := strconv.Unquote(imp.Path.Value); p == hotkeyModule {
				rel, _ := filepath.Rel(root, path)
				importers = append(importers, filepath.ToSlash(rel))
				require.True(t, strings.HasPrefix(string(src), "//go:build desktop"), "%s imports %s without the desktop tag", rel, hotkeyModule)
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"internal/stopkey/hotkey.go"}, importers)
}
