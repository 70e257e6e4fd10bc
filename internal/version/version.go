// Package version holds build information injected with ldflags:
//
//	go build -ldflags="-X deezer-tagger/internal/version.Version=1.0.0 \
//	  -X deezer-tagger/internal/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

const name = "deezer-tagger"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info is served by /api/version.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s) built %s with %s on %s",
		name, i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Platform)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Full returns the complete version string.
func Full() string {
	return Get().String()
}

// IsDev reports whether this is an untagged development build.
func IsDev() bool {
	return Version == "" || Version == "dev"
}

// UserAgent identifies the tool in outgoing HTTP requests.
func UserAgent() string {
	return name + "/" + Version
}
