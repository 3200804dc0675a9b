package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/jwtguard/internal/backoff"
	"github.com/osvaldoandrade/jwtguard/internal/tracing"
	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// RedisAddr enables the shared last good JWKS store when set.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	// JWKSStoreTTLSeconds bounds how long a stored document is kept; zero
	// means 24h.
	JWKSStoreTTLSeconds int `yaml:"jwksStoreTtlSeconds"`

	AdminRole string `yaml:"adminRole"`

	Parser  ParserConfig  `yaml:"parser"`
	Monitor MonitorConfig `yaml:"monitor"`
	Tracing TracingConfig `yaml:"tracing"`
	Issuers []IssuerEntry `yaml:"issuers"`
}

type ParserConfig struct {
	MaxTokenSize    int `yaml:"maxTokenSize"`
	MaxPartSize     int `yaml:"maxPartSize"`
	MaxDepth        int `yaml:"maxDepth"`
	MaxArraySize    int `yaml:"maxArraySize"`
	MaxStringLength int `yaml:"maxStringLength"`
}

type MonitorConfig struct {
	WindowSize int `yaml:"windowSize"`
	Stripes    int `yaml:"stripes"`
	// Measurements lists the stage names to record; empty records all.
	Measurements []string `yaml:"measurements"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
	// UntracedPaths are request paths whose server spans are dropped.
	UntracedPaths []string `yaml:"untracedPaths"`
}

// IssuerEntry is one trusted issuer. Leeway and Enabled are pointers so
// that an omitted value takes the default instead of zero.
type IssuerEntry struct {
	Issuer           string     `yaml:"issuer"`
	JWKS             JWKSConfig `yaml:"jwks"`
	Algorithms       []string   `yaml:"algorithms"`
	LeewaySeconds    *int       `yaml:"leewaySeconds"`
	Audiences        []string   `yaml:"audiences"`
	ClientIDs        []string   `yaml:"clientIds"`
	ClaimSubOptional bool       `yaml:"claimSubOptional"`
	Enabled          *bool      `yaml:"enabled"`
}

// JWKSConfig selects the key source. Type is one of http, file, memory or
// none; when empty it is inferred from whichever of url, file or inline is
// set.
type JWKSConfig struct {
	Type   string `yaml:"type"`
	URL    string `yaml:"url"`
	File   string `yaml:"file"`
	Inline string `yaml:"inline"`

	RefreshIntervalSeconds int    `yaml:"refreshIntervalSeconds"`
	ConnectTimeoutMillis   int    `yaml:"connectTimeoutMillis"`
	ReadTimeoutMillis      int    `yaml:"readTimeoutMillis"`
	MaxAttempts            int    `yaml:"maxAttempts"`
	BackoffPolicy          string `yaml:"backoffPolicy"`
	BackoffBaseMillis      int    `yaml:"backoffBaseMillis"`
	BackoffMaxMillis       int    `yaml:"backoffMaxMillis"`
	MinRefreshGapSeconds   int    `yaml:"minRefreshGapSeconds"`
}

func (e IssuerEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (j JWKSConfig) loaderType() (jwks.Type, bool) {
	if t := strings.TrimSpace(j.Type); t != "" {
		return jwks.ParseType(strings.ToLower(t))
	}
	switch {
	case j.URL != "":
		return jwks.TypeHTTP, true
	case j.File != "":
		return jwks.TypeFile, true
	case j.Inline != "":
		return jwks.TypeMemory, true
	}
	return jwks.TypeNone, false
}

// LoadConfig reads the YAML file at filePath, applies environment overrides
// and fills defaults. The file must exist.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return load(data)
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty document, so env-only deployments work.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return load(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return load(nil)
	}
	if err != nil {
		return nil, err
	}
	return load(data)
}

func load(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()

	log.Printf("jwtguard config: {Port:%d Redis:%s Issuers:%d MaxTokenSize:%d Tracing:%t}\n",
		c.Port, c.RedisAddr, len(c.Issuers), c.Parser.MaxTokenSize, c.Tracing.Enabled)
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("MAX_TOKEN_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Parser.MaxTokenSize = n
		}
	}
	if v := os.Getenv("OTEL_TRACES_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		c.Tracing.OTLPInsecure = parseBool(v)
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.AdminRole == "" {
		c.AdminRole = "jwtguard-admin"
	}
	if c.Parser.MaxTokenSize <= 0 {
		c.Parser.MaxTokenSize = token.DefaultMaxTokenSize
	}
	if c.Parser.MaxPartSize <= 0 {
		c.Parser.MaxPartSize = token.DefaultMaxPartSize
	}
	if c.Parser.MaxDepth <= 0 {
		c.Parser.MaxDepth = token.DefaultMaxDepth
	}
	if c.Parser.MaxArraySize <= 0 {
		c.Parser.MaxArraySize = token.DefaultMaxArraySize
	}
	if c.Parser.MaxStringLength <= 0 {
		c.Parser.MaxStringLength = token.DefaultMaxStringLength
	}
	if c.Monitor.WindowSize <= 0 {
		c.Monitor.WindowSize = validator.DefaultWindowSize
	}
	if c.Monitor.Stripes <= 0 {
		c.Monitor.Stripes = validator.DefaultStripes
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	if c.Tracing.UntracedPaths == nil {
		c.Tracing.UntracedPaths = append([]string(nil), tracing.DefaultUntracedPaths...)
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 0 and 65535")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logLevel %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logFormat %q is not one of json, text", c.LogFormat))
	}
	if c.JWKSStoreTTLSeconds < 0 {
		errs = append(errs, "jwksStoreTtlSeconds must not be negative")
	}
	if c.Parser.MaxPartSize < c.Parser.MaxTokenSize/2 {
		errs = append(errs, "parser.maxPartSize is too small for parser.maxTokenSize")
	}
	for _, name := range c.Monitor.Measurements {
		if _, ok := validator.ParseMeasurementType(name); !ok {
			errs = append(errs, fmt.Sprintf("monitor.measurements: unknown stage %q", name))
		}
	}

	enabled := 0
	seen := make(map[string]bool, len(c.Issuers))
	for i, e := range c.Issuers {
		prefix := fmt.Sprintf("issuers[%d]", i)
		iss := strings.TrimSpace(e.Issuer)
		if iss == "" {
			errs = append(errs, prefix+": issuer is required")
		} else if seen[iss] {
			errs = append(errs, fmt.Sprintf("%s: duplicate issuer %q", prefix, iss))
		}
		seen[iss] = true
		if e.IsEnabled() {
			enabled++
		}
		if e.LeewaySeconds != nil && (*e.LeewaySeconds < 0 || time.Duration(*e.LeewaySeconds)*time.Second > validator.MaxLeeway) {
			errs = append(errs, fmt.Sprintf("%s: leewaySeconds must be between 0 and %d", prefix, int(validator.MaxLeeway.Seconds())))
		}
		errs = append(errs, e.JWKS.validate(prefix)...)
	}
	if enabled == 0 {
		errs = append(errs, "at least one enabled issuer is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (j JWKSConfig) validate(prefix string) []string {
	var errs []string
	t, ok := j.loaderType()
	if !ok {
		return append(errs, fmt.Sprintf("%s: jwks needs a type or one of url, file, inline", prefix))
	}
	switch t {
	case jwks.TypeHTTP:
		u, err := url.Parse(j.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, prefix+": jwks.url must be a valid http(s) URL")
		}
		if j.BackoffPolicy != "" && !backoff.Valid(j.BackoffPolicy) {
			errs = append(errs, fmt.Sprintf("%s: jwks.backoffPolicy %q is unknown", prefix, j.BackoffPolicy))
		}
	case jwks.TypeFile:
		if strings.TrimSpace(j.File) == "" {
			errs = append(errs, prefix+": jwks.file is required for file loaders")
		}
	case jwks.TypeMemory:
		if strings.TrimSpace(j.Inline) == "" {
			errs = append(errs, prefix+": jwks.inline is required for memory loaders")
		}
	}
	return errs
}

func (c *Config) ParserConfig() token.ParserConfig {
	return token.ParserConfig{
		MaxTokenSize:    c.Parser.MaxTokenSize,
		MaxPartSize:     c.Parser.MaxPartSize,
		MaxDepth:        c.Parser.MaxDepth,
		MaxArraySize:    c.Parser.MaxArraySize,
		MaxStringLength: c.Parser.MaxStringLength,
	}
}

// MonitorConfig ignores unknown stage names; Validate reports them.
func (c *Config) MonitorConfig() validator.MonitorConfig {
	out := validator.MonitorConfig{WindowSize: c.Monitor.WindowSize, Stripes: c.Monitor.Stripes}
	if len(c.Monitor.Measurements) == 0 {
		return out
	}
	out.Enabled = []validator.MeasurementType{}
	for _, name := range c.Monitor.Measurements {
		if m, ok := validator.ParseMeasurementType(name); ok {
			out.Enabled = append(out.Enabled, m)
		}
	}
	return out
}

// BuildIssuerConfigs creates a loader and an IssuerConfig per entry. store
// may be nil; HTTP loaders then keep their last good keys in memory only.
// Loaders created before a failing entry are closed.
func (c *Config) BuildIssuerConfigs(logger *slog.Logger, store jwks.KeySetStore) ([]*validator.IssuerConfig, error) {
	out := make([]*validator.IssuerConfig, 0, len(c.Issuers))
	fail := func(err error) ([]*validator.IssuerConfig, error) {
		for _, ic := range out {
			_ = ic.Loader().Close()
		}
		return nil, err
	}
	for _, e := range c.Issuers {
		iss := strings.TrimSpace(e.Issuer)
		loader, err := e.JWKS.newLoader(iss, logger, store)
		if err != nil {
			return fail(err)
		}
		opts := []validator.IssuerOption{
			validator.WithAudiences(e.Audiences...),
			validator.WithClientIDs(e.ClientIDs...),
			validator.WithClaimSubOptional(e.ClaimSubOptional),
			validator.WithEnabled(e.IsEnabled()),
		}
		if len(e.Algorithms) > 0 {
			opts = append(opts, validator.WithAlgorithms(e.Algorithms...))
		}
		if e.LeewaySeconds != nil {
			opts = append(opts, validator.WithLeeway(time.Duration(*e.LeewaySeconds)*time.Second))
		}
		ic, err := validator.NewIssuerConfig(iss, loader, opts...)
		if err != nil {
			_ = loader.Close()
			return fail(err)
		}
		out = append(out, ic)
	}
	return out, nil
}

func (j JWKSConfig) newLoader(issuer string, logger *slog.Logger, store jwks.KeySetStore) (jwks.Loader, error) {
	t, ok := j.loaderType()
	if !ok {
		return nil, fmt.Errorf("issuer %s: unknown jwks type %q", issuer, j.Type)
	}
	switch t {
	case jwks.TypeHTTP:
		l, err := jwks.NewHTTPLoader(jwks.HTTPConfig{
			Issuer:          issuer,
			URL:             j.URL,
			RefreshInterval: time.Duration(j.RefreshIntervalSeconds) * time.Second,
			ConnectTimeout:  time.Duration(j.ConnectTimeoutMillis) * time.Millisecond,
			ReadTimeout:     time.Duration(j.ReadTimeoutMillis) * time.Millisecond,
			MaxAttempts:     j.MaxAttempts,
			BackoffPolicy:   j.BackoffPolicy,
			BackoffBase:     time.Duration(j.BackoffBaseMillis) * time.Millisecond,
			BackoffMax:      time.Duration(j.BackoffMaxMillis) * time.Millisecond,
			MinRefreshGap:   time.Duration(j.MinRefreshGapSeconds) * time.Second,
			Store:           store,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	case jwks.TypeFile:
		l, err := jwks.NewFileLoader(issuer, j.File, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case jwks.TypeMemory:
		l, err := jwks.NewMemoryLoader(issuer, []byte(j.Inline), logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return jwks.NewNoopLoader(issuer), nil
	}
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
