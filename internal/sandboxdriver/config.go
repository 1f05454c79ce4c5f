package sandboxdriver

import "os"

// Config holds the engine-facing settings read from the environment
// variables named in the external-interfaces contract.
type Config struct {
	Image         string
	NetworkMode   string
	SeccompProfile string
	RetryCeiling  int // max retry attempts for transient engine errors
}

func DefaultConfig() Config {
	return Config{
		Image:          envOrDefault("CONTAINER_IMAGE", "agentserver-sandbox:latest"),
		NetworkMode:    envOrDefault("SANDBOX_NETWORK_MODE", "bridge"),
		SeccompProfile: envOrDefault("SECCOMP_PROFILE_PATH", "containers/seccomp/claude-code.json"),
		RetryCeiling:   5,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
