package model

import (
	"fmt"
	"sort"
	"strings"
)

const DefaultModel = "medium"

// Spec describes one recognized speech model and its repository coordinates.
type Spec struct {
	Name           string
	DisplayName    string
	RepoID         string
	SizeEstimateGB float64
	// Deletable is false for the default model; at least one model must stay
	// installable without a management round-trip.
	Deletable bool
}

// RequiredFiles is the file set every usable model snapshot must contain.
// A snapshot missing any of these cannot be loaded by the engine.
var RequiredFiles = []string{
	"model.bin",
	"config.json",
	"tokenizer.json",
	"vocabulary.json",
}

// ManifestFile is the snapshot manifest parsed during integrity checks.
const ManifestFile = "config.json"

var catalog = map[string]Spec{
	"medium": {
		Name:           "medium",
		DisplayName:    "Medium",
		RepoID:         "Systran/faster-whisper-medium",
		SizeEstimateGB: 1.5,
		Deletable:      false,
	},
	"large-v3": {
		Name:           "large-v3",
		DisplayName:    "Large-v3",
		RepoID:         "Systran/faster-whisper-large-v3",
		SizeEstimateGB: 2.9,
		Deletable:      true,
	},
}

// sizeEstimates covers models outside the serving allow-list so size warnings
// stay accurate if the catalog ever widens.
var sizeEstimates = map[string]float64{
	"tiny":     0.075,
	"base":     0.14,
	"small":    0.46,
	"medium":   1.5,
	"large-v2": 2.9,
	"large-v3": 2.9,
}

func Lookup(name string) (Spec, bool) {
	spec, ok := catalog[name]
	return spec, ok
}

// Allowed reports whether name is a member of the serving allow-list.
func Allowed(name string) bool {
	_, ok := catalog[name]
	return ok
}

func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SizeEstimateGB returns the expected download size for a model that is not
// cached yet. Unknown names fall back to the medium-class estimate.
func SizeEstimateGB(name string) float64 {
	if size, ok := sizeEstimates[name]; ok {
		return size
	}
	return 1.5
}

// DisplayName returns the human-facing model name, for models outside the
// catalog it title-cases the raw name.
func DisplayName(name string) string {
	if spec, ok := catalog[name]; ok {
		return spec.DisplayName
	}
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// CacheDirName is the model's directory name under the cache root, following
// the hub layout (models--<org>--<repo>).
func CacheDirName(name string) string {
	repoID := fmt.Sprintf("Systran/faster-whisper-%s", name)
	if spec, ok := catalog[name]; ok {
		repoID = spec.RepoID
	}
	return "models--" + strings.ReplaceAll(repoID, "/", "--")
}
