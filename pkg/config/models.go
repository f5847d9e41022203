package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Realtime  RealtimeConfig `mapstructure:"realtime"`
	Calls     CallConfig     `mapstructure:"calls"`
	Store     StoreConfig    `mapstructure:"store"`
	LogLevel  string         `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	SendLimit       SendLimitConfig       `mapstructure:"sendLimit"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwtSecret"`
	CookieName string `mapstructure:"cookieName"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

// SendLimitConfig throttles the HTTP message-send endpoint per user.
type SendLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type RealtimeConfig struct {
	// AllowSocketSend enables chat sends over the realtime channel. The
	// canonical send path is HTTP; this stays off unless explicitly enabled.
	AllowSocketSend  bool          `mapstructure:"allowSocketSend"`
	MessageWindow    time.Duration `mapstructure:"messageWindow"`
	MessageBurst     int           `mapstructure:"messageBurst"`
	MaxContentLength int           `mapstructure:"maxContentLength"`
}

type CallConfig struct {
	// Cooldown is the minimum interval between call attempts from the same
	// caller to the same callee.
	Cooldown      time.Duration `mapstructure:"cooldown"`
	MinAccountAge time.Duration `mapstructure:"minAccountAge"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}
