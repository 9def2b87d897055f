// Package routing resolves an incoming message to an agent via channel
// bindings. Matching is tiered: peer, then guild, then team, then account,
// then channel default, then the configured default agent. Within a tier
// the lowest priority number wins; ties keep configuration order.
package routing

import (
	"sort"

	"github.com/nextlevelbuilder/ironclaw/internal/config"
)

// Input is the identity tuple a channel attaches to a message.
type Input struct {
	Channel   string
	AccountID string
	PeerKind  string
	PeerID    string
	GuildID   string
	TeamID    string
}

// Match reports which tier resolved the agent.
type Match string

const (
	MatchPeer           Match = "peer"
	MatchGuild          Match = "guild"
	MatchTeam           Match = "team"
	MatchAccount        Match = "account"
	MatchChannelDefault Match = "channel-default"
	MatchDefault        Match = "default"
)

// Router holds bindings pre-sorted by priority, stable on config order.
type Router struct {
	bindings []config.Binding
}

func NewRouter(bindings []config.Binding) *Router {
	sorted := make([]config.Binding, len(bindings))
	copy(sorted, bindings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Router{bindings: sorted}
}

// Resolve returns the agent for the input and which tier matched.
func (r *Router) Resolve(in Input, defaultAgentID string) (string, Match) {
	// Tier 1: explicit peer binding on the same channel.
	for _, b := range r.bindings {
		if b.Match.Channel != in.Channel || b.Match.Peer == nil {
			continue
		}
		if b.Match.Peer.Kind == in.PeerKind && b.Match.Peer.ID == in.PeerID {
			return b.AgentID, MatchPeer
		}
	}

	// Tier 2: guild.
	if in.GuildID != "" {
		for _, b := range r.bindings {
			if b.Match.Channel == in.Channel && b.Match.GuildID != "" && b.Match.GuildID == in.GuildID {
				return b.AgentID, MatchGuild
			}
		}
	}

	// Tier 3: team.
	if in.TeamID != "" {
		for _, b := range r.bindings {
			if b.Match.Channel == in.Channel && b.Match.TeamID != "" && b.Match.TeamID == in.TeamID {
				return b.AgentID, MatchTeam
			}
		}
	}

	// Tier 4: account-scoped binding with no narrower constraint.
	if in.AccountID != "" {
		for _, b := range r.bindings {
			if b.Match.Channel != in.Channel || !isBare(b.Match) {
				continue
			}
			if b.Match.AccountID == in.AccountID {
				return b.AgentID, MatchAccount
			}
		}
	}

	// Tier 5: channel default (wildcard or absent account).
	for _, b := range r.bindings {
		if b.Match.Channel != in.Channel || !isBare(b.Match) {
			continue
		}
		if b.Match.AccountID == "" || b.Match.AccountID == "*" {
			return b.AgentID, MatchChannelDefault
		}
	}

	return defaultAgentID, MatchDefault
}

// isBare reports whether the match carries no peer/guild/team constraint.
func isBare(m config.BindingMatch) bool {
	return m.Peer == nil && m.GuildID == "" && m.TeamID == ""
}
