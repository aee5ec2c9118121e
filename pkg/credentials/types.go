package credentials

import "time"

// Credentials is the on-disk shape of credentials.toml.
type Credentials struct {
	Version   int                           `toml:"version"`
	Providers map[string]ProviderCredential `toml:"providers"`
}

// ProviderCredential is one stored provider key.
type ProviderCredential struct {
	APIKey   string    `toml:"api_key"`
	StoredAt time.Time `toml:"stored_at"`
}

// Masked shows the last four characters of the key.
func (c ProviderCredential) Masked() string {
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return "****" + c.APIKey[len(c.APIKey)-4:]
}
