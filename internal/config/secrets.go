package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging or
// printing the active configuration so secrets are never accidentally
// exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Storage
	out.Storage = cfg.Storage
	redact(&out.Storage.Postgres.DSN)
	redact(&out.Storage.Postgres.Password)

	// Onchain
	out.Onchain = cfg.Onchain
	redact(&out.Onchain.PrivateKey)
	redact(&out.Onchain.KeyPassword)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Archive / S3
	out.Archive = cfg.Archive
	redact(&out.Archive.S3.AccessKey)
	redact(&out.Archive.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
