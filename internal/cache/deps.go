package cache

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// ResolveExtensions is probed in order against a relative import specifier.
// The first candidate that names an existing regular file wins.
var ResolveExtensions = []string{
	"",
	".ts",
	".tsx",
	".js",
	".jsx",
	".mjs",
	".cjs",
	"/index.ts",
	"/index.tsx",
	"/index.js",
	"/index.jsx",
}

var importPatterns = []*regexp.Regexp{
	// import x from './a', import { a, b } from './a', import './a'
	regexp.MustCompile(`\bimport\s+(?:[\w*{}\s,$]+?\s+from\s+)?['"]([^'"\n]+)['"]`),
	// export * from './a', export { a } from './a'
	regexp.MustCompile(`\bexport\s+(?:[\w*{}\s,$]+?\s+)?from\s+['"]([^'"\n]+)['"]`),
	// require('./a')
	regexp.MustCompile(`\brequire\(\s*['"]([^'"\n]+)['"]\s*\)`),
	// import('./a')
	regexp.MustCompile(`\bimport\(\s*['"]([^'"\n]+)['"]\s*\)`),
}

// ExtractDependencies returns the absolute paths of the files testFile
// imports through relative specifiers. Package imports are ignored, and so are
// specifiers that do not resolve to a file. Any read failure yields nil.
func ExtractDependencies(fs afero.Fs, testFile string) []string {
	absTest, err := filepath.Abs(testFile)
	if err != nil {
		return nil
	}

	data, err := afero.ReadFile(fs, absTest)
	if err != nil {
		return nil
	}

	dir := filepath.Dir(absTest)
	seen := make(map[string]bool)
	var deps []string

	for _, spec := range relativeImports(string(data)) {
		resolved := resolveImport(fs, dir, spec)
		if resolved == "" || seen[resolved] {
			continue
		}

		seen[resolved] = true
		deps = append(deps, resolved)
	}

	return deps
}

// relativeImports lists every import specifier starting with ./ or ../
func relativeImports(source string) []string {
	var specs []string

	for _, re := range importPatterns {
		for _, m := range re.FindAllStringSubmatch(source, -1) {
			spec := m[1]
			if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
				specs = append(specs, spec)
			}
		}
	}

	return specs
}

func resolveImport(fs afero.Fs, dir, spec string) string {
	base := filepath.Join(dir, filepath.FromSlash(spec))

	for _, ext := range ResolveExtensions {
		candidate := base + filepath.FromSlash(ext)
		if isRegularFile(fs, candidate) {
			return candidate
		}
	}

	return ""
}

func isRegularFile(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}
