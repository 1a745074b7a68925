package probe

import "time"

// Phase is the prober's belief about backend reachability.
type Phase string

const (
	PhaseChecking    Phase = "checking"
	PhaseHealthy     Phase = "healthy"
	PhaseUnreachable Phase = "unreachable"
)

// Status is the outcome of the most recent probe.
type Status struct {
	Phase       Phase         `json:"phase"`
	IsConnected bool          `json:"is_connected"`
	Message     string        `json:"message"`
	Latency     time.Duration `json:"latency"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// Messages reported when the health endpoint gives no usable detail.
const (
	MsgCheckFailed = "Failed to check database status"
	MsgUnavailable = "Database is unavailable"
	MsgChecking    = "Checking database connection..."
)

// ConnectedSentinel is the value of the health body's database field that
// denotes a reachable data store.
const ConnectedSentinel = "connected"

func initialStatus() Status {
	return Status{Phase: PhaseChecking, Message: MsgChecking}
}

func healthy(msg string) Status {
	return Status{Phase: PhaseHealthy, IsConnected: true, Message: msg}
}

func unreachable(msg string) Status {
	return Status{Phase: PhaseUnreachable, Message: msg}
}
