package modelversion

import (
	"time"

	"forestwatch/pkg/errors"
)

// VersionLayout is fixed width so lexicographic order equals chronological order
const VersionLayout = "20060102-150405.000000"

// NewVersionID formats t (UTC, microsecond precision)
func NewVersionID(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(VersionLayout)
}

// ParseVersionID is the inverse of NewVersionID
func ParseVersionID(id string) (time.Time, error) {
	t, err := time.Parse(VersionLayout, id)
	if err != nil {
		return time.Time{}, errors.NewValidationError("version_id", "malformed", id)
	}
	return t, nil
}

// NextVersionID returns an id for now that sorts strictly after latest.
// An empty latest means no prior versions.
func NextVersionID(now time.Time, latest string) string {
	id := NewVersionID(now)
	if latest == "" || id > latest {
		return id
	}
	prev, err := ParseVersionID(latest)
	if err != nil {
		return id
	}
	return NewVersionID(prev.Add(time.Microsecond))
}
