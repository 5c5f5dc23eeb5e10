package logger

// Config log configuration
type Config struct {
	Level string `json:"level"` // debug, info, warn, error (default: info)
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}
