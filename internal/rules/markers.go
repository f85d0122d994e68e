package rules

import (
	"fmt"
	"strings"
	"time"
)

const (
	addedPrefix   = "# Added:"
	removedPrefix = "# Removed:"
	markerLayout  = "2006-01-02 15:04:05 UTC"
)

// AddedMarker is the attribution comment written above a newly inserted rule.
func AddedMarker(user string, now time.Time) string {
	return marker(addedPrefix, user, now)
}

// RemovedMarker is the comment written above a soft-deleted rule.
func RemovedMarker(user string, now time.Time) string {
	return marker(removedPrefix, user, now)
}

func marker(prefix, user string, now time.Time) string {
	return fmt.Sprintf("%s %s | User: %s", prefix, now.UTC().Format(markerLayout), handle(user))
}

// AddMessage is the commit message for an inserted or replaced rule.
func AddMessage(rule Rule, user string) string {
	return "Add rule: " + rule.Line() + by(user)
}

// DeleteMessage is the commit message for a soft-deleted rule.
func DeleteMessage(rule Rule, user string) string {
	return "Delete rule: " + rule.Line() + by(user)
}

// NormalizeMessage is the commit message for a re-rendered file.
const NormalizeMessage = "Normalize: drop policy column"

func handle(user string) string {
	user = strings.TrimPrefix(strings.TrimSpace(user), "@")
	if user == "" {
		return "unknown"
	}
	return "@" + user
}

func by(user string) string {
	user = strings.TrimPrefix(strings.TrimSpace(user), "@")
	if user == "" {
		return ""
	}
	return " by @" + user
}
