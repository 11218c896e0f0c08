package catalog

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

// categoryExtensions are the extension presets of each scan category.
var categoryExtensions = map[config.Category][]string{
	config.CategoryPhotos: {
		".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif",
		".webp", ".heic", ".heif", ".raw", ".cr2", ".nef", ".arw",
		".dng", ".orf", ".rw2", ".pef", ".sr2",
	},
	config.CategoryModels: {
		".ckpt", ".safetensors", ".pt", ".pth", ".bin", ".h5",
		".pb", ".onnx", ".model", ".weights", ".pkl",
	},
	config.CategoryEbooks: {
		".epub", ".pdf", ".mobi", ".azw", ".azw3",
	},
}

// modelsMinSize skips small files that merely share a model extension.
const modelsMinSize = 1 << 20

// Filter decides which listed files enter the inventory.
type Filter struct {
	extensions map[string]struct{} // empty means any extension
	minSize    int64
	include    []string
	exclude    []string
}

// NewFilter builds a filter from the scan configuration. Explicit extensions
// replace the category preset.
func NewFilter(cfg *config.ScanConfig) *Filter {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = categoryExtensions[cfg.Category]
	}

	f := &Filter{
		extensions: make(map[string]struct{}, len(exts)),
		minSize:    cfg.MinSizeBytes,
		include:    cfg.Include,
		exclude:    cfg.Exclude,
	}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		f.extensions[e] = struct{}{}
	}
	if f.minSize == 0 && cfg.Category == config.CategoryModels {
		f.minSize = modelsMinSize
	}
	return f
}

// Match reports whether a file entry passes the filter. Globs are matched
// against the path without its leading slash.
func (f *Filter) Match(e model.RemoteEntry) bool {
	if e.Type != model.EntryFile {
		return false
	}
	if e.Size < f.minSize {
		return false
	}
	if len(f.extensions) > 0 {
		if _, ok := f.extensions[strings.ToLower(path.Ext(e.Path))]; !ok {
			return false
		}
	}

	rel := strings.TrimPrefix(e.Path, "/")
	if len(f.include) > 0 && !MatchAny(f.include, rel) {
		return false
	}
	return !MatchAny(f.exclude, rel)
}

// MatchAny reports whether rel matches any of the doublestar patterns.
// Patterns are validated with the configuration, so match errors count as no match.
func MatchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(strings.TrimPrefix(p, "/"), rel); err == nil && ok {
			return true
		}
	}
	return false
}
