// Package maps decides how a game-creation request refers to its map: by the
// name of a map hosted by the game service, or by a path on local disk.
package maps

import (
	"os"
	"path/filepath"
	"strings"
)

// LocalMapExtension marks a map identifier as a local map file.
const LocalMapExtension = ".SC2Map"

// Kind tells which form a Reference takes.
type Kind int

const (
	KindRemoteName Kind = iota
	KindLocalPath
)

func (k Kind) String() string {
	if k == KindLocalPath {
		return "local_path"
	}
	return "remote_name"
}

// Reference is a resolved map identifier.
type Reference struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// RemoteName returns a reference to a service-hosted map.
func RemoteName(name string) Reference {
	return Reference{Kind: KindRemoteName, Value: name}
}

// LocalPath returns a reference to a map file path.
func LocalPath(path string) Reference {
	return Reference{Kind: KindLocalPath, Value: path}
}

func (r Reference) String() string {
	return r.Kind.String() + ":" + r.Value
}

// Resolve turns a raw map identifier into a Reference. Identifiers without the
// local map extension are remote names. Local identifiers are used as-is when
// they are existing absolute paths, otherwise each search root is probed in
// order and the first existing joined path wins. When nothing matches, the
// identifier is passed through unchanged for the engine to resolve.
func Resolve(identifier string, searchRoots []string) Reference {
	if !strings.HasSuffix(identifier, LocalMapExtension) {
		return RemoteName(identifier)
	}

	if filepath.IsAbs(identifier) && fileExists(identifier) {
		return LocalPath(identifier)
	}

	for _, root := range searchRoots {
		if root == "" {
			continue
		}
		candidate := filepath.Join(root, identifier)
		if fileExists(candidate) {
			return LocalPath(candidate)
		}
	}

	return LocalPath(identifier)
}

// SearchRoots builds the ordered probe list: the engine install maps
// directory, the library maps directory, then any extra fallbacks.
func SearchRoots(executable, libraryDir string, extra ...string) []string {
	var roots []string
	if executable != "" {
		roots = append(roots, InstallMapsDir(executable))
	}
	if libraryDir != "" {
		roots = append(roots, libraryDir)
	}
	for _, dir := range extra {
		if dir != "" {
			roots = append(roots, dir)
		}
	}
	return roots
}

// InstallMapsDir derives the engine's Maps directory from its executable
// path. The executable lives under <install>/Versions/<build>/, so the maps
// sit in <install>/Maps. Without a Versions ancestor the executable's own
// directory is used as the install root.
func InstallMapsDir(executable string) string {
	dir := filepath.Dir(filepath.Clean(executable))
	for d := dir; ; {
		if strings.EqualFold(filepath.Base(d), "Versions") {
			return filepath.Join(filepath.Dir(d), "Maps")
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return filepath.Join(dir, "Maps")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
