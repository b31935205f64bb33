// Package session holds the per-conversation state: a Redis cache with a
// sliding TTL in front of a durable Postgres snapshot used for cold-start
// rehydration after eviction.
package session

import "time"

// Turn is one exchange entry kept in the bounded recent-turn window.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the mutable conversational state for one conversation.
type Session struct {
	ConversationID string            `json:"conversation_id"`
	LastIntent     string            `json:"last_intent,omitempty"`
	RecentTurns    []Turn            `json:"recent_turns,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Update is a partial session mutation merged by Store.Update.
type Update struct {
	LastIntent string
	Turn       *Turn
	Attributes map[string]string
}

// apply merges the update into s, trimming the turn window to recentMax.
func (s *Session) apply(u Update, recentMax int) {
	if u.LastIntent != "" {
		s.LastIntent = u.LastIntent
	}
	if u.Turn != nil {
		s.RecentTurns = append(s.RecentTurns, *u.Turn)
		if recentMax > 0 && len(s.RecentTurns) > recentMax {
			s.RecentTurns = s.RecentTurns[len(s.RecentTurns)-recentMax:]
		}
	}
	if len(u.Attributes) > 0 {
		if s.Attributes == nil {
			s.Attributes = make(map[string]string, len(u.Attributes))
		}
		for k, v := range u.Attributes {
			s.Attributes[k] = v
		}
	}
}
