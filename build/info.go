// Package build reports what the running binary was built from.
package build

import (
	"fmt"
	"runtime/debug"
)

type Info struct {
	Module     string `json:"module,omitempty"`
	GoVersion  string `json:"goVersion,omitempty"`
	Revision   string `json:"revision,omitempty"`
	RevisionAt string `json:"revisionAt,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
}

func Read() Info {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}
	}
	return fromBuildInfo(bi)
}

func fromBuildInfo(bi *debug.BuildInfo) Info {
	info := Info{
		Module:    bi.Main.Path,
		GoVersion: bi.GoVersion,
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.time":
			info.RevisionAt = s.Value
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String is the short revision, "unknown" for builds without VCS stamping.
func (i Info) String() string {
	rev := i.Revision
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if i.Dirty {
		return fmt.Sprintf("%s-dirty", rev)
	}
	return rev
}
