// Package sessions manages session metadata and transcripts.
//
// Session keys are stable routing addresses:
//
//	Channel conversation: {channel}:{peerId}       e.g. telegram:386246614
//	Subagent run:         subagent:{uuid}
//	Cron job:             cron:{jobId}
//
// At most one session exists per key. The session itself is identified by
// an opaque UUID used as the transcript file name.
package sessions

import (
	"fmt"
	"strings"
)

// BuildChannelKey builds the session key for a channel conversation.
func BuildChannelKey(channel, peerID string) string {
	return fmt.Sprintf("%s:%s", channel, peerID)
}

// BuildSubagentKey builds the session key for a subagent run.
func BuildSubagentKey(runID string) string {
	return "subagent:" + runID
}

// BuildCronKey builds the session key for a cron job. One key per job: a
// fire deletes and recreates the session so every run starts fresh.
func BuildCronKey(jobID string) string {
	return "cron:" + jobID
}

// IsSubagentKey reports whether the key addresses a subagent session.
func IsSubagentKey(key string) bool {
	return strings.HasPrefix(key, "subagent:")
}

// IsCronKey reports whether the key addresses a cron session.
func IsCronKey(key string) bool {
	return strings.HasPrefix(key, "cron:")
}

// ChannelOf returns the channel component of a channel session key, or ""
// for subagent and cron keys.
func ChannelOf(key string) string {
	if IsSubagentKey(key) || IsCronKey(key) {
		return ""
	}
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return ""
}
