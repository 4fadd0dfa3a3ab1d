// Package version carries the SDK build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"

	modulePath = "github.com/bfast/bfast-go"
)

// Set with -ldflags "-X github.com/bfast/bfast-go/pkg/version.Version=v1.2.3".
// Anything left empty falls back to what the Go toolchain stamped into the binary.
var (
	Version   = DevelopmentVersion
	GitCommit = Unknown
	BuildTime = Unknown
)

// Info contains the SDK build metadata.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// stamped is what debug.ReadBuildInfo reports for this module.
type stamped struct {
	version  string
	revision string
	time     string
	dirty    bool
}

var (
	readBuildInfo = debug.ReadBuildInfo
	stampOnce     sync.Once
	stamp         stamped
)

func buildStamp() stamped {
	stampOnce.Do(func() {
		bi, ok := readBuildInfo()
		if !ok {
			return
		}
		stamp.version = moduleVersion(bi)
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				stamp.revision = s.Value
			case "vcs.time":
				stamp.time = s.Value
			case "vcs.modified":
				stamp.dirty = s.Value == "true"
			}
		}
	})
	return stamp
}

// moduleVersion finds the SDK version whether it is the main module (the
// bfast binary) or a dependency of the caller's program.
func moduleVersion(bi *debug.BuildInfo) string {
	if bi.Main.Path == modulePath {
		return cleanVersion(bi.Main.Version)
	}
	for _, dep := range bi.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil {
			return cleanVersion(dep.Replace.Version)
		}
		return cleanVersion(dep.Version)
	}
	return ""
}

func cleanVersion(v string) string {
	if v == "(devel)" {
		return ""
	}
	return v
}

// Current returns the current build metadata.
func Current() Info {
	s := buildStamp()
	commit := firstNonEmpty(GitCommit, s.revision)
	if commit == s.revision && s.dirty {
		commit += "-dirty"
	}
	return Info{
		Version:   orDefault(firstNonEmpty(Version, s.version), DevelopmentVersion),
		Commit:    orDefault(commit, Unknown),
		BuildTime: orDefault(firstNonEmpty(BuildTime, s.time), Unknown),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent is the default User-Agent of SDK requests.
func UserAgent() string {
	return fmt.Sprintf("bfast-go/%s (%s)", Current().Version, runtime.GOOS)
}

func (i Info) String() string {
	return fmt.Sprintf("bfast-go@%s (commit=%s, build_time=%s, %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform)
}

// firstNonEmpty treats the ldflags placeholders as unset.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && v != Unknown && v != DevelopmentVersion {
			return v
		}
	}
	return ""
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
