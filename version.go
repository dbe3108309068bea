// version.go: Build identity used to namespace install directories
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"strconv"
	"sync"
	"time"
)

// sentinelTag names the install directory used when package metadata
// cannot be read.
const sentinelTag = "0"

// VersionTag identifies the running application build. It renders as
// "<build>-<updateEpochMillis>" and doubles as the install directory name.
type VersionTag struct {
	BuildNumber       int64 `json:"build_number"`
	UpdateEpochMillis int64 `json:"update_epoch_ms"`
	sentinel          bool
}

// SentinelVersionTag returns the fallback tag "0". Extraction still works
// under it, without staleness discrimination between builds.
func SentinelVersionTag() VersionTag {
	return VersionTag{sentinel: true}
}

// NewVersionTag derives a tag from package metadata. The update time falls
// back to the first install time when it is zero.
func NewVersionTag(info PackageInfo) VersionTag {
	updated := info.LastUpdateMillis
	if updated == 0 {
		updated = info.FirstInstallMillis
	}
	return VersionTag{
		BuildNumber:       info.VersionCode,
		UpdateEpochMillis: updated,
	}
}

// IsSentinel reports whether the tag is the "0" fallback.
func (v VersionTag) IsSentinel() bool {
	return v.sentinel
}

// String renders the tag as an install directory name.
func (v VersionTag) String() string {
	if v.sentinel {
		return sentinelTag
	}
	return strconv.FormatInt(v.BuildNumber, 10) + "-" + strconv.FormatInt(v.UpdateEpochMillis, 10)
}

// UpdateTime returns the update timestamp as a time.Time.
func (v VersionTag) UpdateTime() time.Time {
	return time.UnixMilli(v.UpdateEpochMillis)
}

// Freshness returns the gate that rejects files older than this build.
func (v VersionTag) Freshness(epsilon time.Duration) *Freshness {
	return &Freshness{
		UpdateEpochMillis: v.UpdateEpochMillis,
		Epsilon:           epsilon,
	}
}

// versionMemo computes the tag once and never again for its lifetime.
type versionMemo struct {
	once   sync.Once
	source PackageInfoSource
	logger Logger
	tag    VersionTag
}

func newVersionMemo(source PackageInfoSource, logger Logger) *versionMemo {
	return &versionMemo{source: source, logger: logger}
}

func (m *versionMemo) get() VersionTag {
	m.once.Do(func() {
		if m.source == nil {
			m.logger.Warn("No package information source configured, using sentinel version tag")
			m.tag = SentinelVersionTag()
			return
		}

		info, err := m.source.PackageInfo()
		if err != nil {
			m.logger.Error("Package information not found", "error", err)
			m.tag = SentinelVersionTag()
			return
		}

		m.tag = NewVersionTag(info)
		m.logger.Debug("Resolved version tag",
			"tag", m.tag.String(),
			"version_code", info.VersionCode,
			"update_epoch_ms", m.tag.UpdateEpochMillis)
	})
	return m.tag
}
