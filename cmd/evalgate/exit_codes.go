package main

// Exit codes are part of the CLI contract; CI pipelines branch on them.
const (
	exitOK              = 0
	exitInternalFailure = 1
	exitInvalidInput    = 2
	exitGateBlocked     = 3
	exitProviderFailure = 4
	exitPipelineFailed  = 5
	exitSchemaViolation = 6
)
