package domain

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// Status is the terminal state of a trade attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s Status) IsValid() bool {
	return s == StatusSuccess || s == StatusFailed
}

// RunMode selects how a trade amount is routed across wallets.
type RunMode string

const (
	// RunModeSingle routes the full amount through the first wallet.
	RunModeSingle RunMode = "single"
	// RunModeMulti splits the amount evenly across every wallet.
	RunModeMulti RunMode = "multi"
)

// String returns the string representation of RunMode.
func (m RunMode) String() string {
	return string(m)
}

// IsValid checks if the mode is a valid value.
func (m RunMode) IsValid() bool {
	return m == RunModeSingle || m == RunModeMulti
}
