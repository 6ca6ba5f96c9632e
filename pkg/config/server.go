package config

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:               8080,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	}
}

// AuthConfig names the environment variables holding secrets. Values are
// read from the environment at startup, never stored in YAML.
type AuthConfig struct {
	// JWTSecretEnv is the env var holding the HMAC signing secret.
	// Defaults to "JWT_SECRET".
	JWTSecretEnv string `yaml:"jwt_secret_env,omitempty"`

	// EncryptionKeyEnv is the env var holding the 32-byte (base64) key
	// that seals per-student API keys at rest. Defaults to
	// "SAPIENS_ENCRYPTION_KEY".
	EncryptionKeyEnv string `yaml:"encryption_key_env,omitempty"`
}

// DefaultAuthConfig returns the default secret env var names.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		JWTSecretEnv:     "JWT_SECRET",
		EncryptionKeyEnv: "SAPIENS_ENCRYPTION_KEY",
	}
}
