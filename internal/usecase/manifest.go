package usecase

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// fallbackTitle is used when a successful run leaves no usable manifest.
// A zero exit code is the sole success signal; a missing manifest is never
// an error.
const fallbackTitle = "Generated App"

type artifactMeta struct {
	Title       string
	Description string
}

// readManifest extracts artifact metadata from the workspace's package
// manifest, falling back to placeholders for anything unusable.
func readManifest(dir string) artifactMeta {
	meta := artifactMeta{Title: fallbackTitle}

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return meta
	}
	var manifest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return meta
	}
	if title := humanizeName(manifest.Name); title != "" {
		meta.Title = title
	}
	meta.Description = manifest.Description
	return meta
}

// humanizeName turns a package name like "@acme/invoice-app" into
// "Invoice App".
func humanizeName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
