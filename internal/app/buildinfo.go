package app

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/node"
)

// Set with -ldflags "-X" in release builds. When empty, the values recorded
// by the Go toolchain in the binary are used instead.
var (
	Version   = ""
	BuildDate = ""
)

// BuildInfo identifies the binary and the protocol revision it speaks.
type BuildInfo struct {
	Version  string
	Revision string // short VCS commit, only for untagged builds
	Date     string
	Library  string
	Protocol int
	Core     uint8
}

// CurrentBuild merges the ldflags values with the module build info.
func CurrentBuild() BuildInfo {
	b := BuildInfo{
		Version:  strings.TrimSpace(Version),
		Date:     calendarDate(BuildDate),
		Library:  node.LibraryVersion,
		Protocol: message.ProtocolVersion,
		Core:     node.CoreVersion,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		b.fillFrom(bi)
	}
	if b.Version == "" {
		b.Version = "dev"
	}

	return b
}

func (b *BuildInfo) fillFrom(bi *debug.BuildInfo) {
	if b.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Version == "" {
				b.Revision = s.Value[:min(len(s.Value), 12)]
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = calendarDate(s.Value)
			}
		}
	}
}

// String renders e.g. "sensornet 1.0.0 (2026-01-30) (library 2.3.2, protocol v2, core v2)".
func (b BuildInfo) String() string {
	v := b.Version
	if b.Revision != "" {
		v += "+" + b.Revision
	}
	if b.Date != "" {
		v += " (" + b.Date + ")"
	}

	return fmt.Sprintf("%s %s (library %s, protocol v%d, core v%d)", Name, v, b.Library, b.Protocol, b.Core)
}

// Banner is the one-line identity printed by the version command and at startup.
func Banner() string {
	return CurrentBuild().String()
}

// calendarDate keeps YYYY-MM-DD out of RFC 3339 and date-prefixed stamps.
// Anything else is returned trimmed but unchanged.
func calendarDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)]); err == nil {
			return raw[:len(time.DateOnly)]
		}
	}

	return raw
}
