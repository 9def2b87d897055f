package agent

import "strings"

// Sentinel replies that suppress channel delivery.
const (
	SentinelNoReply = "NO_REPLY"  // the agent chose to deliver via a send-tool
	SentinelDone    = "(done)"    // the loop ended with nothing to say
	SentinelAborted = "(aborted)" // the run was cancelled
)

// ShouldDeliver reports whether a final reply should reach the channel.
func ShouldDeliver(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == SentinelDone || trimmed == SentinelAborted {
		return false
	}
	return !IsSilentReply(trimmed)
}

// IsSilentReply checks whether the text is a NO_REPLY token, alone or
// attached to the start or end of the reply.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == SentinelNoReply {
		return true
	}
	if strings.HasPrefix(trimmed, SentinelNoReply) {
		rest := trimmed[len(SentinelNoReply):]
		if !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if strings.HasSuffix(trimmed, SentinelNoReply) {
		before := trimmed[:len(trimmed)-len(SentinelNoReply)]
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
