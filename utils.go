package vocconv

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// filesByExtInDir lists the regular files (or symlinks) directly in dirPath whose name ends in
// ext, ignoring case. An empty ext matches every file. The paths are sorted by file name.
func filesByExtInDir(dirPath, ext string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %q: %v", dirPath, err)
	}

	ext = strings.ToLower(ext)
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		mode := e.Type()
		if !mode.IsRegular() && mode&fs.ModeSymlink == 0 {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(dirPath, e.Name()))
	}
	return files, nil
}

// splitPath splits the given file path into the dir name, the base name without extension and the
// extension (without the dot).
func splitPath(path string) (dir, baseNoExt, ext string, err error) {
	dir, baseNoExt, ext = splitPathNoErr(path)
	if ext == "" {
		return "", "", "", fmt.Errorf("missing file extension in %q", path)
	}
	return dir, baseNoExt, ext, nil
}

// splitPathNoErr is like splitPath, but also accepts paths without file extension.
func splitPathNoErr(path string) (dir, baseNoExt, ext string) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	return dir, strings.TrimSuffix(file, ext), strings.TrimPrefix(ext, ".")
}

// mapFileNamesToExtensions maps the base names of the given file paths, with the file type
// extensions stripped off, to the file extension (without the dot).
func mapFileNamesToExtensions(filePaths []string) map[string]string {
	mapping := make(map[string]string, len(filePaths))
	for _, path := range filePaths {
		_, baseNoExt, ext, err := splitPath(path)
		if err != nil {
			log.Print(err)
			continue
		}
		mapping[baseNoExt] = ext
	}

	return mapping
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
