package server

// Config HTTP layer settings
type Config struct {
	// OwnerSessionKey session key holding the signed-in resource owner id
	OwnerSessionKey string
	// ReturnURIKey session key holding the authorize form of a request that
	// was interrupted by sign-in
	ReturnURIKey string
	// AllowGetAccessRequest to allow GET requests for the token
	AllowGetAccessRequest bool
}

// NewConfig create to configuration instance
func NewConfig() *Config {
	return &Config{
		OwnerSessionKey: "owner_id",
		ReturnURIKey:    "ReturnUri",
	}
}
