package cmd

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitConfig    = 2
	exitContended = 3
)
