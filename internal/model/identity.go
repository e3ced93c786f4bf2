package model

import "strings"

type KeyKind string

const (
	KindAnonymous KeyKind = "anonymous"
	KindDeveloper KeyKind = "developer"
	KindAgent     KeyKind = "agent"
)

const (
	DeveloperKeyPrefix = "dk_"
	AgentKeyPrefix     = "ak_"
)

func (k KeyKind) String() string { return string(k) }

func (k KeyKind) Valid() bool {
	return k == KindAnonymous || k == KindDeveloper || k == KindAgent
}

// Prefix returns the key prefix for issuable kinds; anonymous has none.
func (k KeyKind) Prefix() string {
	switch k {
	case KindDeveloper:
		return DeveloperKeyPrefix
	case KindAgent:
		return AgentKeyPrefix
	default:
		return ""
	}
}

// ParseKeyKind accepts only kinds that can be issued as API keys.
func ParseKeyKind(s string) (KeyKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "developer", "dev":
		return KindDeveloper, true
	case "agent":
		return KindAgent, true
	default:
		return "", false
	}
}

// KindOfKey classifies a raw credential by its prefix.
func KindOfKey(key string) (KeyKind, bool) {
	switch {
	case strings.HasPrefix(key, DeveloperKeyPrefix):
		return KindDeveloper, true
	case strings.HasPrefix(key, AgentKeyPrefix):
		return KindAgent, true
	default:
		return "", false
	}
}

// Tier is the quota configuration attached to a caller class.
type Tier struct {
	DailyLimit       int `json:"daily_limit"`
	PointsPerRequest int `json:"points_per_request"`
}

// Tiers is the single source of truth for quota decisions.
var Tiers = map[KeyKind]Tier{
	KindAnonymous: {DailyLimit: 100, PointsPerRequest: 1},
	KindDeveloper: {DailyLimit: 500, PointsPerRequest: 2},
	KindAgent:     {DailyLimit: 5000, PointsPerRequest: 2},
}

func TierFor(k KeyKind) Tier {
	if t, ok := Tiers[k]; ok {
		return t
	}
	return Tiers[KindAnonymous]
}

// Identity is a resolved caller.
type Identity struct {
	Kind KeyKind
	Tier Tier
	// Token is the raw key string, or the session token for anonymous callers.
	Token string
	// KeyID and Owner are empty for anonymous callers.
	KeyID string
	Owner string
}

func (i Identity) Anonymous() bool { return i.Kind == KindAnonymous }

// Ref is the stable reference used in usage records and logs.
func (i Identity) Ref() string {
	if i.Anonymous() {
		return "anon:" + i.Token
	}
	return "key:" + i.KeyID
}
