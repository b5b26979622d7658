package fs

import (
	"context"
	"time"
)

// Global
var (
	// globalConfig for the process. Commands adjust it after parsing
	// flags, libraries should read it through GetConfig.
	globalConfig = NewConfig()

	// Version of the client, overridden at link time
	Version = "v0.4.0-DEV"
)

// ConfigInfo is the process wide config for logging and HTTP
type ConfigInfo struct {
	LogLevel              LogLevel
	UseJSONLog            bool
	ConnectTimeout        time.Duration // Connect timeout
	Timeout               time.Duration // Data channel timeout
	ExpectContinueTimeout time.Duration
	Dump                  DumpFlags
	InsecureSkipVerify    bool // Skip server certificate verification
	LowLevelRetries       int
	NoGzip                bool // Disable compression
	UserAgent             string
	TPSLimit              float64
	TPSLimitBurst         int
	Cookie                bool
	Transfers             int
}

// NewConfig creates a new config with everything set to the default
// value.
func NewConfig() *ConfigInfo {
	c := new(ConfigInfo)

	// Set any values which aren't the zero for the type
	c.LogLevel = LogLevelNotice
	c.ConnectTimeout = 60 * time.Second
	c.Timeout = 5 * 60 * time.Second
	c.ExpectContinueTimeout = 1 * time.Second
	c.LowLevelRetries = 5
	c.UserAgent = DefaultUserAgent()
	c.TPSLimitBurst = 1
	c.Transfers = 4
	return c
}

// DefaultUserAgent is the User-Agent sent when none is configured
func DefaultUserAgent() string {
	return "dco3/" + Version
}

type configContextKeyType struct{}

// Context key for config
var configContextKey = configContextKeyType{}

// GetConfig returns the global or context sensitive context
func GetConfig(ctx context.Context) *ConfigInfo {
	if ctx == nil {
		return globalConfig
	}
	c := ctx.Value(configContextKey)
	if c == nil {
		return globalConfig
	}
	return c.(*ConfigInfo)
}

// AddConfig returns a mutable config structure based on a shallow
// copy of that found in ctx and returns a new context with that added
// to it.
func AddConfig(ctx context.Context) (context.Context, *ConfigInfo) {
	c := GetConfig(ctx)
	cCopy := new(ConfigInfo)
	*cCopy = *c
	newCtx := context.WithValue(ctx, configContextKey, cCopy)
	return newCtx, cCopy
}
