package internal

// Option configures the application before a command runs.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig supplies the loaded configuration. Every command requires
// it.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
