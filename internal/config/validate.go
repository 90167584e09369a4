package config

import (
	"fmt"
	"os"
	"slices"
)

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// APIKey returns the provider API key from the environment.
func (c *Config) APIKey() (string, error) {
	switch c.Provider {
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
	case ProviderOpenAI:
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("%w: OPENAI_API_KEY not set", ErrMissingAPIKey)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}
}

// Validate checks configuration values and fails fast on the first
// invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Provider != ProviderGemini && c.Provider != ProviderOpenAI {
		return fmt.Errorf("%w: %q (supported: %s, %s)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenAI)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: %d, must be positive", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: %d, must be in [0, chunk_size)", ErrInvalidChunkOverlap, c.ChunkOverlap)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: %d, must be positive", ErrInvalidBatchSize, c.BatchSize)
	}

	if c.TopK <= 0 {
		return fmt.Errorf("%w: %d, must be positive", ErrInvalidTopK, c.TopK)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("%w: %g, must be in [0, 1]", ErrInvalidLambda, c.MMRLambda)
	}

	if c.ClusterEps <= 0 {
		return fmt.Errorf("%w: %g, must be positive", ErrInvalidEps, c.ClusterEps)
	}
	if c.MinClusterSize < 2 {
		return fmt.Errorf("%w: %d, must be at least 2", ErrInvalidMinClusterSize, c.MinClusterSize)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d, must be in [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q (supported: %v)", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
