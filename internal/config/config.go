package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "studyforge"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0

	defaultRetryMaxAttempts = 4
	defaultRetryBaseDelayMS = 1000
	defaultRetryJitterMS    = 400
	defaultPacingDelayMS    = 2000
	defaultStandardSections = 6
	defaultDeepSections     = 12
	defaultUploadMaxSizeMB  = 200
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	DSN            string                `yaml:"dsn"` // MySQL DSN
	RedisURL       string                `yaml:"redis_url"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	Env            string                `yaml:"env"` // "development" | "production"
	Paths          RuntimePathsConfig    `yaml:"paths"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	AI             AIConfig              `yaml:"ai"`
	S3             S3Options             `yaml:"s3"`
	Upload         UploadOptions         `yaml:"upload"`
}

type DatabaseRuntimeConfig struct {
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

type RuntimePathsConfig struct {
	Logs    string `yaml:"logs"`
	Uploads string `yaml:"uploads"`
	Static  string `yaml:"static"`
}

// AIConfig wires the generation pipeline: the provider registry, the ordered
// primary model pool, the single fallback assignment and the retry/pacing knobs.
type AIConfig struct {
	Providers     []AIProvider        `yaml:"providers"`
	PrimaryPool   []AIModelAssignment `yaml:"primary_pool"`
	FallbackModel *AIModelAssignment  `yaml:"fallback_model"`
	Retry         RetryOptions        `yaml:"retry"`
	PacingDelayMS int                 `yaml:"pacing_delay_ms"`
	SectionCounts SectionCounts       `yaml:"section_counts"`
}

type AIProvider struct {
	ID           string `yaml:"id"            json:"id"`
	Name         string `yaml:"name"          json:"name"`
	Type         string `yaml:"type"          json:"type"` // OpenAI | OpenAI-Compatible | Anthropic | OpenRouter
	APIKey       string `yaml:"api_key"       json:"-"`
	Endpoint     string `yaml:"endpoint"      json:"endpoint,omitempty"`
	DefaultModel string `yaml:"default_model" json:"default_model"`
	Enabled      bool   `yaml:"enabled"       json:"enabled"`
}

type AIModelAssignment struct {
	ProviderID string `yaml:"provider_id" json:"provider_id"`
	Model      string `yaml:"model"       json:"model"`
}

type RetryOptions struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	JitterMS    int `yaml:"jitter_ms"`
}

type SectionCounts struct {
	Standard int `yaml:"standard"`
	Deep     int `yaml:"deep"`
}

type S3Options struct {
	Enable          bool   `yaml:"enable"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	CustomDomain    string `yaml:"custom_domain"`
	PathStyleAccess bool   `yaml:"path_style_access"`
}

type UploadOptions struct {
	MaxSizeMB int `yaml:"max_size_mb"`
}

type rawAppConfig struct {
	Port           int                   `yaml:"port"`
	DSN            string                `yaml:"dsn"`
	DatabaseURL    string                `yaml:"database_url"`
	RedisURL       string                `yaml:"redis_url"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	Env            string                `yaml:"env"`
	Paths          RuntimePathsConfig    `yaml:"paths"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	AI             AIConfig              `yaml:"ai"`
	S3             S3Options             `yaml:"s3"`
	Upload         UploadOptions         `yaml:"upload"`
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	raw := rawAppConfig{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	applyRawAppConfig(&cfg, raw)
	applyEnvOverrides(&cfg)

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("invalid database.port %d in %q, expected 1-65535", cfg.Database.Port, path)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return nil, fmt.Errorf("invalid redis.port %d in %q, expected 1-65535", cfg.Redis.Port, path)
	}
	if err := validateAIConfig(cfg.AI); err != nil {
		return nil, fmt.Errorf("invalid ai config in %q: %w", path, err)
	}

	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		AI: AIConfig{
			Retry: RetryOptions{
				MaxAttempts: defaultRetryMaxAttempts,
				BaseDelayMS: defaultRetryBaseDelayMS,
				JitterMS:    defaultRetryJitterMS,
			},
			PacingDelayMS: defaultPacingDelayMS,
			SectionCounts: SectionCounts{
				Standard: defaultStandardSections,
				Deep:     defaultDeepSections,
			},
		},
		Upload: UploadOptions{MaxSizeMB: defaultUploadMaxSizeMB},
	}
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return cfg
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(raw.Paths.Uploads); v != "" {
		cfg.Paths.Uploads = v
	}
	if v := strings.TrimSpace(raw.Paths.Static); v != "" {
		cfg.Paths.Static = v
	}
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}

	cfg.AI = applyRawAIConfig(cfg.AI, raw.AI)
	cfg.S3 = normalizeS3Options(raw.S3, cfg.S3)
	if raw.Upload.MaxSizeMB > 0 {
		cfg.Upload.MaxSizeMB = raw.Upload.MaxSizeMB
	}

	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	cfg.Env = normalizeEnv(cfg.Env)
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	cfg := current
	if v := strings.TrimSpace(raw.Database.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.DatabaseURL); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.Database.Host); v != "" {
		cfg.Host = v
	}
	if raw.Database.Port != 0 {
		cfg.Port = raw.Database.Port
	}
	if v := strings.TrimSpace(raw.Database.User); v != "" {
		cfg.User = v
	}
	if v := strings.TrimSpace(raw.Database.Password); v != "" {
		cfg.Password = v
	}
	if v := strings.TrimSpace(raw.Database.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(raw.Database.Charset); v != "" {
		cfg.Charset = v
	}
	if raw.Database.ParseTime {
		cfg.ParseTime = true
	}
	if v := strings.TrimSpace(raw.Database.Loc); v != "" {
		cfg.Loc = v
	}
	if raw.Database.Params != nil {
		cfg.Params = copyStringMap(raw.Database.Params)
	}
	return cfg
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	cfg := current
	if v := strings.TrimSpace(raw.Redis.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.Redis.Host); v != "" {
		cfg.Host = v
	}
	if raw.Redis.Port != 0 {
		cfg.Port = raw.Redis.Port
	}
	if v := strings.TrimSpace(raw.Redis.Username); v != "" {
		cfg.Username = v
	}
	if v := strings.TrimSpace(raw.Redis.Password); v != "" {
		cfg.Password = v
	}
	if raw.Redis.DB != 0 {
		cfg.DB = raw.Redis.DB
	}
	if raw.Redis.TLS {
		cfg.TLS = true
	}
	return cfg
}

func applyRawAIConfig(current AIConfig, raw AIConfig) AIConfig {
	cfg := current
	if raw.Providers != nil {
		cfg.Providers = normalizeProviders(raw.Providers)
	}
	if raw.PrimaryPool != nil {
		cfg.PrimaryPool = normalizeAssignments(raw.PrimaryPool)
	}
	if raw.FallbackModel != nil {
		fb := *raw.FallbackModel
		fb.ProviderID = strings.TrimSpace(fb.ProviderID)
		fb.Model = strings.TrimSpace(fb.Model)
		cfg.FallbackModel = &fb
	}
	if raw.Retry.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = raw.Retry.MaxAttempts
	}
	if raw.Retry.BaseDelayMS > 0 {
		cfg.Retry.BaseDelayMS = raw.Retry.BaseDelayMS
	}
	if raw.Retry.JitterMS > 0 {
		cfg.Retry.JitterMS = raw.Retry.JitterMS
	}
	if raw.PacingDelayMS > 0 {
		cfg.PacingDelayMS = raw.PacingDelayMS
	}
	if raw.SectionCounts.Standard > 0 {
		cfg.SectionCounts.Standard = raw.SectionCounts.Standard
	}
	if raw.SectionCounts.Deep > 0 {
		cfg.SectionCounts.Deep = raw.SectionCounts.Deep
	}
	return cfg
}

func validateAIConfig(cfg AIConfig) error {
	ids := make(map[string]struct{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("provider with empty id")
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("duplicate provider id %q", id)
		}
		ids[id] = struct{}{}
	}
	for _, a := range cfg.PrimaryPool {
		if _, ok := ids[a.ProviderID]; !ok {
			return fmt.Errorf("primary_pool references unknown provider %q", a.ProviderID)
		}
	}
	if fb := cfg.FallbackModel; fb != nil {
		if _, ok := ids[fb.ProviderID]; !ok {
			return fmt.Errorf("fallback_model references unknown provider %q", fb.ProviderID)
		}
	}
	if len(cfg.Providers) > 0 && len(cfg.PrimaryPool) == 0 && cfg.FallbackModel == nil {
		return fmt.Errorf("primary_pool is empty and no fallback_model is set")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	return nil
}

func normalizeProviders(providers []AIProvider) []AIProvider {
	out := make([]AIProvider, 0, len(providers))
	for _, p := range providers {
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		p.Type = strings.TrimSpace(p.Type)
		p.APIKey = strings.TrimSpace(p.APIKey)
		p.Endpoint = strings.TrimSpace(p.Endpoint)
		p.DefaultModel = strings.TrimSpace(p.DefaultModel)
		out = append(out, p)
	}
	return out
}

func normalizeAssignments(assignments []AIModelAssignment) []AIModelAssignment {
	out := make([]AIModelAssignment, 0, len(assignments))
	for _, a := range assignments {
		a.ProviderID = strings.TrimSpace(a.ProviderID)
		a.Model = strings.TrimSpace(a.Model)
		if a.ProviderID == "" && a.Model == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func normalizeS3Options(raw, current S3Options) S3Options {
	cfg := current
	if raw.Enable {
		cfg.Enable = true
	}
	if v := strings.TrimSpace(raw.Endpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(raw.AccessKeyID); v != "" {
		cfg.AccessKeyID = v
	}
	if v := strings.TrimSpace(raw.SecretAccessKey); v != "" {
		cfg.SecretAccessKey = v
	}
	if v := strings.TrimSpace(raw.Bucket); v != "" {
		cfg.Bucket = v
	}
	if v := strings.TrimSpace(raw.Region); v != "" {
		cfg.Region = v
	}
	if v := strings.TrimSpace(raw.CustomDomain); v != "" {
		cfg.CustomDomain = strings.TrimRight(v, "/")
	}
	if raw.PathStyleAccess {
		cfg.PathStyleAccess = true
	}
	return cfg
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("SF_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("SF_DSN")); v != "" {
		cfg.Database.DSN = v
		cfg.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("SF_REDIS_URL")); v != "" {
		cfg.Redis.URL = v
		cfg.RedisURL = cfg.Redis.URLValue()
	}
	if v := strings.TrimSpace(os.Getenv("SF_JWT_SECRET")); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("SF_ENV")); v != "" {
		cfg.Env = normalizeEnv(v)
	}
}

func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultDBHost
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}
	user := strings.TrimSpace(c.User)
	if user == "" {
		user = defaultDBUser
	}
	password := strings.TrimSpace(c.Password)
	if password == "" {
		password = defaultDBPassword
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = defaultDBName
	}
	charset := strings.TrimSpace(c.Charset)
	if charset == "" {
		charset = defaultDBCharset
	}
	loc := strings.TrimSpace(c.Loc)
	if loc == "" {
		loc = defaultDBLoc
	}

	params := neturl.Values{}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			params.Set(k, v)
		}
	}
	if params.Get("charset") == "" {
		params.Set("charset", charset)
	}
	if params.Get("parseTime") == "" {
		params.Set("parseTime", strconv.FormatBool(c.ParseTime))
	}
	if params.Get("loc") == "" {
		params.Set("loc", loc)
	}

	auth := user
	if password != "" {
		auth += ":" + password
	}

	dsn := fmt.Sprintf("%s@tcp(%s)/%s", auth, net.JoinHostPort(host, strconv.Itoa(port)), name)
	if query := params.Encode(); query != "" {
		dsn += "?" + query
	}
	return dsn
}

func (c RedisRuntimeConfig) URLValue() string {
	if u := normalizeRedisRawURL(c.URL); u != "" {
		return u
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}
	db := c.DB
	if db < 0 {
		db = defaultRedisDB
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(db),
	}
	username := strings.TrimSpace(c.Username)
	password := strings.TrimSpace(c.Password)
	if username != "" {
		if password != "" {
			u.User = neturl.UserPassword(username, password)
		} else {
			u.User = neturl.User(username)
		}
	} else if password != "" {
		u.User = neturl.UserPassword("", password)
	}
	return u.String()
}

func normalizeRedisRawURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		return trimmed
	}
	return "redis://" + trimmed
}

func copyStringMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

// RetryBaseDelay returns the exponential backoff base as a duration.
func (r RetryOptions) RetryBaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// RetryJitter returns the maximum random jitter as a duration.
func (r RetryOptions) RetryJitter() time.Duration {
	return time.Duration(r.JitterMS) * time.Millisecond
}

// PacingDelay returns the fixed inter-section delay as a duration.
func (c AIConfig) PacingDelay() time.Duration {
	return time.Duration(c.PacingDelayMS) * time.Millisecond
}

// SectionCount maps a run depth to the exact number of sections it requires.
// Unknown depths fall back to the standard count.
func (c AIConfig) SectionCount(depth string) int {
	if strings.EqualFold(strings.TrimSpace(depth), "deep") {
		return c.SectionCounts.Deep
	}
	return c.SectionCounts.Standard
}

func (c *AppConfig) UploadDir() string {
	if c == nil || strings.TrimSpace(c.Paths.Uploads) == "" {
		return "uploads"
	}
	return strings.TrimSpace(c.Paths.Uploads)
}

func (c *AppConfig) StaticDir() string {
	if c == nil || strings.TrimSpace(c.Paths.Static) == "" {
		return "static"
	}
	return strings.TrimSpace(c.Paths.Static)
}

func (c *AppConfig) LogDir() string {
	if c == nil || strings.TrimSpace(c.Paths.Logs) == "" {
		return "logs"
	}
	return strings.TrimSpace(c.Paths.Logs)
}
