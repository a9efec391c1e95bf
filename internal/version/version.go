package version

import (
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X github.com/skylink-fpv/skylink/internal/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// ProtocolVersion identifies the shard framing and RC datagram layout spoken on the
// link. Air and ground units must agree on it.
const ProtocolVersion = 1

// Info describes the running binary.
type Info struct {
	Version       string `json:"version"`
	Protocol      int    `json:"protocol"`
	GoVersion     string `json:"go_version"`
	GitCommit     string `json:"git_commit"`
	BuildTime     string `json:"build_time"`
	FormattedTime string `json:"-"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
}

func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Client returns the version information of this binary.
func Client() Info {
	return Info{
		Version:       Version,
		Protocol:      ProtocolVersion,
		GoVersion:     runtime.Version(),
		GitCommit:     CommitID,
		BuildTime:     BuildTime,
		FormattedTime: formatBuildTime(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
}
