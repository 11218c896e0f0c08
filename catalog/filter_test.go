package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

func file(p string, size int64) model.RemoteEntry {
	return model.RemoteEntry{Path: p, Type: model.EntryFile, Size: size}
}

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.ScanConfig
		entry model.RemoteEntry
		want  bool
	}{
		{"all accepts anything", config.ScanConfig{Category: config.CategoryAll}, file("/x/notes.txt", 1), true},
		{"directories never match", config.ScanConfig{}, model.RemoteEntry{Path: "/x", Type: model.EntryDir}, false},
		{"photos preset", config.ScanConfig{Category: config.CategoryPhotos}, file("/Camera/IMG_1.JPG", 10), true},
		{"photos preset rejects", config.ScanConfig{Category: config.CategoryPhotos}, file("/Camera/clip.mp4", 10), false},
		{"ebooks preset", config.ScanConfig{Category: config.CategoryEbooks}, file("/Books/dune.epub", 10), true},
		{"models default min size", config.ScanConfig{Category: config.CategoryModels}, file("/sd/tiny.bin", 100), false},
		{"models above min size", config.ScanConfig{Category: config.CategoryModels}, file("/sd/v1.safetensors", 2<<20), true},
		{"explicit extensions override preset", config.ScanConfig{Category: config.CategoryPhotos, Extensions: []string{"mp4"}}, file("/v/clip.MP4", 1), true},
		{"min size", config.ScanConfig{MinSizeBytes: 100}, file("/a", 99), false},
		{"include glob", config.ScanConfig{Include: []string{"Photos/**"}}, file("/Photos/2020/a.jpg", 1), true},
		{"include glob misses", config.ScanConfig{Include: []string{"Photos/**"}}, file("/Backup/a.jpg", 1), false},
		{"exclude glob", config.ScanConfig{Exclude: []string{"**/.thumbnails/**"}}, file("/Photos/.thumbnails/a.jpg", 1), false},
		{"leading slash in pattern", config.ScanConfig{Include: []string{"/Photos/*.jpg"}}, file("/Photos/a.jpg", 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			require.Equal(t, tt.want, NewFilter(&cfg).Match(tt.entry))
		})
	}
}

func TestMatchAny(t *testing.T) {
	require.True(t, MatchAny([]string{"a/*", "Backup/**"}, "Backup/2019/x.jpg"))
	require.False(t, MatchAny(nil, "anything"))
	require.False(t, MatchAny([]string{"a/*"}, "a/b/c"))
}
