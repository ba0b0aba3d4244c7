package ports

// Result is the single message a subscriber receives
type Result struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultExpired = "expired"
)

// Close codes used when the hub ends a subscription
const (
	CloseNormal   = 1000
	CloseShutdown = 1001
	CloseNotFound = 4004
	CloseConflict = 4009
	CloseExpired  = 4010
)

// Conn is a live connection waiting for the outcome of a phrase
type Conn interface {
	// Deliver queues the result for sending. It must not block.
	Deliver(result Result)
	// Close ends the connection with a coded reason. Idempotent.
	Close(code int, reason string)
}
