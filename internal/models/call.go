package models

import "time"

// ActiveCall is a tracked call that has not ended yet
type ActiveCall struct {
	Identity  string    `json:"identity"`
	StartedAt time.Time `json:"startedAt"`
}

// RelayStats summarizes the relay's live state
type RelayStats struct {
	Connections int `json:"connections"`
	Identities  int `json:"identities"`
	ActiveCalls int `json:"activeCalls"`
}

// PresenceResponse answers whether an identity has a live connection
type PresenceResponse struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}
