package app

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains the complete runtime configuration. Values resolve in three
// layers: built-in defaults, then the optional YAML config file, then
// environment variables. Env always wins so a container can override a baked
// file.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless a database is configured and
	// reachable.
	ReadinessRequireDB bool

	WS        WSConfig
	SMTP      SMTPConfig
	Bootstrap BootstrapConfig
}

// WSConfig carries the websocket transport knobs.
type WSConfig struct {
	OriginRequired  bool
	AllowedOrigins  []string
	DevInsecure     bool
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	// MaxVerifyConcurrency caps concurrent password verifications;
	// 0 means one per CPU.
	MaxVerifyConcurrency int
}

// SMTPConfig carries outbound mail settings for one-time code delivery.
// Leaving Host empty selects the log-only sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// BootstrapConfig names the operator account ensured at startup. An empty
// OperatorEmail disables bootstrap. An empty OperatorPassword provisions via
// one-time code instead of a fixed password.
type BootstrapConfig struct {
	OperatorEmail    string
	OperatorPassword string
}

func defaultConfig() Config {
	return Config{
		HTTPAddr: "0.0.0.0:8080",
		LogLevel: "info",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns: 10,
		DBMinConns: 0,

		WS: WSConfig{
			OriginRequired: true,
			AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
	}
}

// LoadConfig resolves the runtime configuration. The config file path comes
// from RELAY_CONFIG_FILE; a missing variable means env-only operation, but a
// named file that cannot be read or parsed is a hard error.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := EnvString("RELAY_CONFIG_FILE", ""); path != "" {
		if err := loadConfigFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// fileConfig is the YAML schema. Pointer fields distinguish "absent" from
// zero; durations are strings in time.ParseDuration notation.
type fileConfig struct {
	HTTPAddr  *string `yaml:"http_addr"`
	LogLevel  *string `yaml:"log_level"`
	LogPretty *bool   `yaml:"log_pretty"`

	ReadHeaderTimeout *string `yaml:"read_header_timeout"`
	ReadTimeout       *string `yaml:"read_timeout"`
	WriteTimeout      *string `yaml:"write_timeout"`
	IdleTimeout       *string `yaml:"idle_timeout"`
	MaxHeaderBytes    *int    `yaml:"max_header_bytes"`

	DatabaseURL        *string `yaml:"database_url"`
	DBSchema           *string `yaml:"db_schema"`
	DBMaxConns         *int32  `yaml:"db_max_conns"`
	DBMinConns         *int32  `yaml:"db_min_conns"`
	ReadinessRequireDB *bool   `yaml:"readiness_require_db"`

	WS struct {
		OriginRequired       *bool    `yaml:"origin_required"`
		AllowedOrigins       []string `yaml:"allowed_origins"`
		DevInsecure          *bool    `yaml:"dev_insecure"`
		WriteTimeout         *string  `yaml:"write_timeout"`
		ReadIdleTimeout      *string  `yaml:"read_idle_timeout"`
		SendQueueSize        *int     `yaml:"send_queue_size"`
		MaxVerifyConcurrency *int     `yaml:"max_verify_concurrency"`
	} `yaml:"ws"`

	SMTP struct {
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		Username *string `yaml:"username"`
		Password *string `yaml:"password"`
		From     *string `yaml:"from"`
	} `yaml:"smtp"`

	Bootstrap struct {
		OperatorEmail    *string `yaml:"operator_email"`
		OperatorPassword *string `yaml:"operator_password"`
	} `yaml:"bootstrap"`
}

func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path.
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if err := mergeFileConfig(cfg, fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func mergeFileConfig(cfg *Config, fc fileConfig) error {
	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.LogLevel, fc.LogLevel)
	setBool(&cfg.LogPretty, fc.LogPretty)

	for _, d := range []struct {
		dst *time.Duration
		src *string
		key string
	}{
		{&cfg.ReadHeaderTimeout, fc.ReadHeaderTimeout, "read_header_timeout"},
		{&cfg.ReadTimeout, fc.ReadTimeout, "read_timeout"},
		{&cfg.WriteTimeout, fc.WriteTimeout, "write_timeout"},
		{&cfg.IdleTimeout, fc.IdleTimeout, "idle_timeout"},
		{&cfg.WS.WriteTimeout, fc.WS.WriteTimeout, "ws.write_timeout"},
		{&cfg.WS.ReadIdleTimeout, fc.WS.ReadIdleTimeout, "ws.read_idle_timeout"},
	} {
		if err := setDuration(d.dst, d.src); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	setInt(&cfg.MaxHeaderBytes, fc.MaxHeaderBytes)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.DBSchema, fc.DBSchema)
	setInt32(&cfg.DBMaxConns, fc.DBMaxConns)
	setInt32(&cfg.DBMinConns, fc.DBMinConns)
	setBool(&cfg.ReadinessRequireDB, fc.ReadinessRequireDB)

	setBool(&cfg.WS.OriginRequired, fc.WS.OriginRequired)
	if len(fc.WS.AllowedOrigins) > 0 {
		cfg.WS.AllowedOrigins = fc.WS.AllowedOrigins
	}
	setBool(&cfg.WS.DevInsecure, fc.WS.DevInsecure)
	setInt(&cfg.WS.SendQueueSize, fc.WS.SendQueueSize)
	setInt(&cfg.WS.MaxVerifyConcurrency, fc.WS.MaxVerifyConcurrency)

	setString(&cfg.SMTP.Host, fc.SMTP.Host)
	setInt(&cfg.SMTP.Port, fc.SMTP.Port)
	setString(&cfg.SMTP.Username, fc.SMTP.Username)
	setString(&cfg.SMTP.Password, fc.SMTP.Password)
	setString(&cfg.SMTP.From, fc.SMTP.From)

	setString(&cfg.Bootstrap.OperatorEmail, fc.Bootstrap.OperatorEmail)
	setString(&cfg.Bootstrap.OperatorPassword, fc.Bootstrap.OperatorPassword)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt32(dst *int32, src *int32) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("RELAY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("RELAY_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = EnvBool("RELAY_LOG_PRETTY", cfg.LogPretty)

	cfg.ReadHeaderTimeout = EnvDuration("RELAY_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("RELAY_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("RELAY_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("RELAY_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("RELAY_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.DatabaseURL = EnvString("RELAY_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("RELAY_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("RELAY_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("RELAY_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.ReadinessRequireDB = EnvBool("RELAY_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)

	cfg.WS.OriginRequired = EnvBool("RELAY_WS_ORIGIN_REQUIRED", cfg.WS.OriginRequired)
	cfg.WS.AllowedOrigins = EnvStrings("RELAY_WS_ALLOWED_ORIGINS", cfg.WS.AllowedOrigins)
	cfg.WS.DevInsecure = EnvBool("RELAY_WS_DEV_INSECURE", cfg.WS.DevInsecure)
	cfg.WS.WriteTimeout = EnvDuration("RELAY_WS_WRITE_TIMEOUT", cfg.WS.WriteTimeout)
	cfg.WS.ReadIdleTimeout = EnvDuration("RELAY_WS_READ_IDLE_TIMEOUT", cfg.WS.ReadIdleTimeout)
	cfg.WS.SendQueueSize = EnvInt("RELAY_WS_SEND_QUEUE_SIZE", cfg.WS.SendQueueSize)
	cfg.WS.MaxVerifyConcurrency = EnvInt("RELAY_WS_MAX_VERIFY_CONCURRENCY", cfg.WS.MaxVerifyConcurrency)

	cfg.SMTP.Host = EnvString("RELAY_SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = EnvInt("RELAY_SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = EnvString("RELAY_SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = EnvString("RELAY_SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = EnvString("RELAY_SMTP_FROM", cfg.SMTP.From)

	cfg.Bootstrap.OperatorEmail = EnvString("RELAY_OPERATOR_EMAIL", cfg.Bootstrap.OperatorEmail)
	cfg.Bootstrap.OperatorPassword = EnvString("RELAY_OPERATOR_PASSWORD", cfg.Bootstrap.OperatorPassword)
}
