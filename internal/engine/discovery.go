package engine

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/numlab/matlab-mcp-go/internal/errors"
)

// Discoverer locates the MATLAB executable.
type Discoverer interface {
	// Discover returns the absolute path to the MATLAB executable or an
	// *errors.EngineStartError listing every location that was searched.
	Discover() (string, error)
}

// DiscoveryConfig holds configuration for executable discovery.
type DiscoveryConfig struct {
	// MatlabPath is an explicit installation root (the directory containing
	// bin/matlab). If set, discovery checks it and nothing else.
	MatlabPath string

	// Logger is an optional logger for discovery operations.
	Logger *slog.Logger
}

type discoverer struct {
	cfg DiscoveryConfig
	log *slog.Logger
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates an executable discoverer with the given configuration.
func NewDiscoverer(cfg DiscoveryConfig) Discoverer {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	return &discoverer{cfg: cfg, log: log}
}

// Discover locates the MATLAB executable.
//
// Search order:
//  1. <MatlabPath>/bin/matlab when an installation root is configured
//  2. "matlab" on PATH
//  3. Version directories under the platform's default install root
//     (newest release first)
func (d *discoverer) Discover() (string, error) {
	if d.cfg.MatlabPath != "" {
		path := binaryPath(d.cfg.MatlabPath)
		d.log.Debug("Using configured MATLAB root", "path", path)

		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		return "", &errors.EngineStartError{SearchedPaths: []string{path}}
	}

	searched := make([]string, 0, 4)

	d.log.Debug("Searching for 'matlab' in PATH")

	if path, err := exec.LookPath("matlab"); err == nil {
		d.log.Debug("Found matlab in PATH", "path", path)

		return path, nil
	}

	searched = append(searched, "$PATH")

	for _, root := range installRoots() {
		searched = append(searched, root)

		path, ok := newestRelease(root)
		if ok {
			d.log.Debug("Found MATLAB install", "path", path)

			return path, nil
		}
	}

	d.log.Warn("MATLAB executable not found", "searched_paths", searched)

	return "", &errors.EngineStartError{SearchedPaths: searched}
}

// binaryPath returns the executable path under an installation root.
func binaryPath(root string) string {
	name := "matlab"
	if runtime.GOOS == "windows" {
		name = "matlab.exe"
	}

	return filepath.Join(root, "bin", name)
}

// installRoots returns the default installation roots for the platform.
func installRoots() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/Applications"}
	case "windows":
		return []string{`C:\Program Files\MATLAB`}
	default:
		return []string{"/usr/local/MATLAB", "/opt/MATLAB"}
	}
}

// newestRelease scans a root for versioned installs (R2024a etc.) and
// returns the executable of the newest one found.
func newestRelease(root string) (string, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}

	var releases []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		name := e.Name()
		if len(name) >= 6 && name[0] == 'R' {
			releases = append(releases, name)
		} else if runtime.GOOS == "darwin" && len(name) > 7 && name[:7] == "MATLAB_" {
			releases = append(releases, name)
		}
	}

	if len(releases) == 0 {
		return "", false
	}

	// Release names sort lexicographically by year and letter.
	sort.Sort(sort.Reverse(sort.StringSlice(releases)))

	for _, rel := range releases {
		path := binaryPath(filepath.Join(root, rel))
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}

	return "", false
}
