/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package version reports the build information of the dap-client binary.
// The variables are set at link time, e.g. -ldflags "-X .../internal/version.ProductVersion=1.2.3".
// If they are not set, the information recorded by the Go toolchain is used instead.
package version

import (
	"runtime/debug"
	"strconv"
	"time"
)

const DevelopmentVersion = "dev"

var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	// Unix seconds or RFC 3339.
	BuildTimestamp = ""
)

// VersionOutput is what the version command prints.
type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *time.Time `json:"buildTimestamp,omitempty"`
	GoVersion  string     `json:"goVersion,omitempty"`
	Modified   bool       `json:"modified,omitempty"`
}

func Version() VersionOutput {
	info, _ := debug.ReadBuildInfo()
	return versionFrom(ProductVersion, CommitHash, BuildTimestamp, info)
}

func versionFrom(productVersion, commitHash, buildTimestamp string, info *debug.BuildInfo) VersionOutput {
	out := VersionOutput{
		Version:    productVersion,
		CommitHash: commitHash,
		BuildTime:  parseBuildTimestamp(buildTimestamp),
	}
	if out.Version == "" {
		out.Version = DevelopmentVersion
	}

	if info == nil {
		return out
	}

	out.GoVersion = info.GoVersion
	if out.Version == DevelopmentVersion && info.Main.Version != "" && info.Main.Version != "(devel)" {
		out.Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if out.CommitHash == "" {
				out.CommitHash = setting.Value
			}
		case "vcs.time":
			if out.BuildTime == nil {
				out.BuildTime = parseBuildTimestamp(setting.Value)
			}
		case "vcs.modified":
			out.Modified = setting.Value == "true"
		}
	}

	return out
}

func parseBuildTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		t := time.Unix(seconds, 0).UTC()
		return &t
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}

	return nil
}
