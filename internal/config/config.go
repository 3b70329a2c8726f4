package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Dialer DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is optional: without DB_HOST the call archive and audit log stay in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional: it enables the event pub/sub sink and the shared trunk cap.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// PublicBaseURL is where Twilio reaches our webhooks, e.g. https://dialer.example.com.
	PublicBaseURL    string
	MachineDetection string
}

type DialerConfig struct {
	CampaignsFile string
	// Provider selects the telephony adapter: simulated or twilio.
	Provider    string
	SimSequence string

	// TrunkCap limits concurrent attempts across all processes sharing Redis. Zero disables.
	TrunkCap int

	Tick          time.Duration
	Window        time.Duration
	Alpha         float64
	KUp           float64
	KDown         float64
	Cooldown      time.Duration
	RingTimeout   time.Duration
	WrapupTimeout time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.From = strings.TrimSpace(os.Getenv("TWILIO_FROM"))
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL")), "/")
	c.Twilio.MachineDetection = strings.TrimSpace(os.Getenv("TWILIO_MACHINE_DETECTION"))

	c.Dialer.CampaignsFile = strings.TrimSpace(os.Getenv("CAMPAIGNS_FILE"))
	c.Dialer.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("TELEPHONY_PROVIDER")))
	c.Dialer.SimSequence = strings.TrimSpace(os.Getenv("SIM_SEQUENCE"))
	{
		n, err := optionalInt("TRUNK_CAP")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dialer.TrunkCap = n
	}
	// Duration and gain env vars are optional; defaults applied in Validate().
	c.Dialer.Tick = mustDuration("PACING_TICK")
	c.Dialer.Window = mustDuration("PACING_WINDOW")
	c.Dialer.Cooldown = mustDuration("PACING_COOLDOWN")
	c.Dialer.RingTimeout = mustDuration("RING_TIMEOUT")
	c.Dialer.WrapupTimeout = mustDuration("WRAPUP_TIMEOUT")
	for key, dst := range map[string]*float64{
		"PACING_ALPHA":  &c.Dialer.Alpha,
		"PACING_K_UP":   &c.Dialer.KUp,
		"PACING_K_DOWN": &c.Dialer.KDown,
	} {
		f, err := optionalFloat(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = f
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.HasDB() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.HasRedis() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	switch c.Dialer.Provider {
	case "":
		c.Dialer.Provider = "simulated"
	case "simulated":
	case "twilio":
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.From == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM are required for the twilio provider"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("TWILIO_PUBLIC_BASE_URL is required for the twilio provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be simulated or twilio, got %q", c.Dialer.Provider))
	}
	if c.IsProduction() && c.Dialer.Provider == "simulated" {
		errs = append(errs, errors.New("TELEPHONY_PROVIDER simulated is not allowed in production"))
	}
	if c.Dialer.TrunkCap < 0 {
		errs = append(errs, fmt.Errorf("TRUNK_CAP must be >= 0, got %d", c.Dialer.TrunkCap))
	}
	if c.Dialer.TrunkCap > 0 && !c.HasRedis() {
		errs = append(errs, errors.New("TRUNK_CAP requires REDIS_HOST"))
	}

	c.Dialer.applyDefaults()
	if c.Dialer.Alpha > 1 {
		errs = append(errs, fmt.Errorf("PACING_ALPHA must be in (0,1], got %v", c.Dialer.Alpha))
	}
	if c.Dialer.KUp > 1 || c.Dialer.KDown > 1 {
		errs = append(errs, errors.New("PACING_K_UP and PACING_K_DOWN must be <= 1"))
	}

	return joinErrors(errs)
}

func (d *DialerConfig) applyDefaults() {
	if d.Tick <= 0 {
		d.Tick = 3 * time.Second
	}
	if d.Window <= 0 {
		d.Window = time.Minute
	}
	if d.Cooldown <= 0 {
		d.Cooldown = 10 * time.Second
	}
	if d.RingTimeout <= 0 {
		d.RingTimeout = 30 * time.Second
	}
	if d.WrapupTimeout <= 0 {
		d.WrapupTimeout = 2 * time.Minute
	}
	if d.Alpha <= 0 {
		d.Alpha = 0.3
	}
	if d.KUp <= 0 {
		d.KUp = 0.2
	}
	if d.KDown <= 0 {
		d.KDown = 0.4
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HasDB() bool { return c.DB.Host != "" }

func (c Config) HasRedis() bool { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
