package optimizer

// Option configures Optimizer.
type Option func(*Config)

// Config holds solver and annualization settings.
type Config struct {
	RiskFreeRate  float64
	TradingDays   int
	MaxIterations int
	FrontierSeed  int64
	// TargetTolerance is the largest accepted gap between the achieved and
	// the requested annual return.
	TargetTolerance float64
	// MinWeight rounds smaller weights to zero before renormalizing.
	MinWeight float64
}

func defaultConfig() Config {
	return Config{
		RiskFreeRate:    0.03,
		TradingDays:     252,
		MaxIterations:   2000,
		FrontierSeed:    42,
		TargetTolerance: 1e-3,
		MinWeight:       1e-4,
	}
}

func WithRiskFreeRate(rf float64) Option {
	return func(c *Config) { c.RiskFreeRate = rf }
}

func WithTradingDays(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.TradingDays = n
		}
	}
}

func WithMaxIterations(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxIterations = n
		}
	}
}

// WithFrontierSeed fixes the frontier sampler's random source.
func WithFrontierSeed(seed int64) Option {
	return func(c *Config) { c.FrontierSeed = seed }
}
