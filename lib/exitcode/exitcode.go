// Package exitcode exports the exit status numbers of dco3.
package exitcode

const (
	// Success is returned when the command finished without error.
	Success = iota
	// UsageError is returned when there was a syntax or usage error in the arguments.
	UsageError
	// UncategorizedError is returned for any error not categorised otherwise.
	UncategorizedError
	// AuthError is returned when logging in failed or a token was refused.
	AuthError
	// NotFound is returned when the share, upload or account doesn't exist.
	NotFound
	// RetryError is returned for temporary errors which may go away if run again.
	RetryError
	// CryptoError is returned when encrypting or unlocking keys failed.
	CryptoError
	// IOError is returned when the local file couldn't be read.
	IOError
)
