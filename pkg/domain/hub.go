package domain

// HubStats provides statistics about the relay
type HubStats struct {
	AttachedPeers    int     `json:"attached_peers"`
	RegisteredNames  int     `json:"registered_names"`
	EventsBroadcast  int64   `json:"events_broadcast"`
	Deliveries       int64   `json:"deliveries"`
	FailedDeliveries int64   `json:"failed_deliveries"`
	Uptime           float64 `json:"uptime_seconds"`
}
