// Package version reports the build version of the roomchat binaries.
//
// Release builds set it through ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/roomchat/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/roomchat/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/roomchat/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS stamp embedded by the go tool is used when present.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	tag    = ""
	commit = ""
	date   = ""
)

var stampOnce sync.Once

// stamp fills commit and date from the embedded build info when ldflags left
// them empty.
func stamp() {
	stampOnce.Do(func() {
		if commit != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				commit = s.Value
				if len(commit) > 7 {
					commit = commit[:7]
				}
			case "vcs.time":
				if date == "" {
					date = s.Value
				}
			}
		}
	})
}

// String returns the tag, else the short commit, else "dev".
func String() string {
	stamp()
	switch {
	case tag != "":
		return tag
	case commit != "":
		return commit
	default:
		return "dev"
	}
}

// Full returns the version with commit and build date when known.
func Full() string {
	s := String()
	stamp()
	if tag != "" && commit != "" {
		s += " (" + commit + ")"
	}
	if date != "" {
		s += " built " + date
	}
	return s
}
