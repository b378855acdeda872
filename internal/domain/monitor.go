package domain

// MonitorPhase is a state of the log stream monitor.
type MonitorPhase string

const (
	MonitorStopped      MonitorPhase = "stopped"
	MonitorConnecting   MonitorPhase = "connecting"
	MonitorSubscribed   MonitorPhase = "subscribed"
	MonitorStreaming    MonitorPhase = "streaming"
	MonitorReconnecting MonitorPhase = "reconnecting"
)

// String returns the string representation of MonitorPhase.
func (p MonitorPhase) String() string {
	return string(p)
}

// MonitorState is a point-in-time snapshot of the monitor.
type MonitorState struct {
	Running        bool         `json:"running"`
	Phase          MonitorPhase `json:"phase"`
	ProgramID      string       `json:"program_id,omitempty"`
	Commitment     string       `json:"commitment,omitempty"`
	SubscriptionID int64        `json:"subscription_id,omitempty"`
	RetryCount     int          `json:"retry_count"`
	Reconnects     int64        `json:"reconnects"`
	EventsSeen     int64        `json:"events_seen"`
	LastError      string       `json:"last_error,omitempty"`
}
