package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppIdentity names the binary and its config/env conventions.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is used when no identity was set before Load.
var DefaultIdentity = AppIdentity{
	BinaryName: "imagequeue",
	EnvPrefix:  "IMAGEQUEUE_",
	ConfigName: "imagequeue",
}

// EnvSpec maps one environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// SetAppIdentity overrides the identity used by subsequent loads.
func SetAppIdentity(id AppIdentity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// SetConfigFile names an explicit config file. It is merged after the
// discovered files, so it wins over them. An empty path clears it.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)

	v.SetDefault("storage.provider", StorageFile)
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.force_path_style", false)

	v.SetDefault("queue.driver", QueueMemory)
	v.SetDefault("queue.url", "")
	v.SetDefault("queue.region", "")
	v.SetDefault("queue.endpoint", "")
	v.SetDefault("queue.wait_time", "20s")
	v.SetDefault("queue.max_messages", 10)
	v.SetDefault("queue.visibility_timeout", "300s")
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.prefix", "imagequeue")
	v.SetDefault("queue.redis.name", "jobs")
	v.SetDefault("queue.redis.worker_id", "")

	v.SetDefault("generator.provider", GeneratorStub)
	v.SetDefault("generator.model", "gpt-image-1")
	v.SetDefault("generator.base_url", "https://api.openai.com")
	v.SetDefault("generator.timeout", "2m")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.api_key_secret_id", "")
	v.SetDefault("generator.secrets_region", "")
	v.SetDefault("generator.secrets_endpoint", "")
	v.SetDefault("generator.rate_limit", 0)
	v.SetDefault("generator.rate_burst", 1)

	v.SetDefault("cdn.base_url", "http://localhost:8080/assets")

	v.SetDefault("poller.min_backoff", "2s")
	v.SetDefault("poller.max_backoff", "30s")
	v.SetDefault("poller.max_consecutive_errors", 10)
}

// Load builds the config. Precedence, highest first: runtime overrides,
// environment variables, explicit config file, user config, project config,
// defaults. A .env file in the project root is loaded into the environment
// without replacing variables that are already set.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	SetDefaults(v)

	root, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("find project root: %w", err)
	}
	if err := loadDotEnv(filepath.Join(root, ".env")); err != nil {
		return nil, err
	}

	files := []string{filepath.Join(root, getIdentity().ConfigName+".yaml")}
	files = append(files, getUserConfigPaths()...)
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		files = append(files, explicit)
	}
	for _, f := range files {
		if err := mergeFile(v, f); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if val, ok := os.LookupEnv(spec.Name); ok {
			v.Set(spec.Path, val)
		}
	}

	for _, o := range overrides {
		for path, val := range flatten("", o) {
			v.Set(path, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))
	cfg.Queue.Driver = strings.ToLower(strings.TrimSpace(cfg.Queue.Driver))
	cfg.Generator.Provider = strings.ToLower(strings.TrimSpace(cfg.Generator.Provider))
	cfg.CDN.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.CDN.BaseURL), "/")
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// flatten turns nested override maps into dotted viper paths.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func getIdentity() AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return AppIdentity{}
	}
	return *appIdentity
}

// getUserConfigPaths lists per-user config files, lowest precedence first.
func getUserConfigPaths() []string {
	id := getIdentity()
	if id.ConfigName == "" {
		return []string{}
	}

	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", id.ConfigName, "config.yaml"))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		p := filepath.Join(xdg, id.ConfigName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

var envSpecPaths = []EnvSpec{
	{Name: "HOST", Path: "server.host"},
	{Name: "PORT", Path: "server.port"},
	{Name: "READ_TIMEOUT", Path: "server.read_timeout"},
	{Name: "WRITE_TIMEOUT", Path: "server.write_timeout"},
	{Name: "IDLE_TIMEOUT", Path: "server.idle_timeout"},
	{Name: "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
	{Name: "LOG_LEVEL", Path: "logging.level"},
	{Name: "LOG_PROFILE", Path: "logging.profile"},
	{Name: "METRICS_ENABLED", Path: "metrics.enabled"},
	{Name: "METRICS_PORT", Path: "metrics.port"},
	{Name: "HEALTH_ENABLED", Path: "health.enabled"},
	{Name: "DEBUG", Path: "debug.enabled"},
	{Name: "PPROF_ENABLED", Path: "debug.pprof_enabled"},
	{Name: "WORKERS", Path: "workers"},
	{Name: "STORAGE_PROVIDER", Path: "storage.provider"},
	{Name: "STORAGE_BUCKET", Path: "storage.bucket"},
	{Name: "STORAGE_REGION", Path: "storage.region"},
	{Name: "STORAGE_ENDPOINT", Path: "storage.endpoint"},
	{Name: "STORAGE_PROFILE", Path: "storage.profile"},
	{Name: "STORAGE_FORCE_PATH_STYLE", Path: "storage.force_path_style"},
	{Name: "STORAGE_BASE_DIR", Path: "storage.base_dir"},
	{Name: "QUEUE_DRIVER", Path: "queue.driver"},
	{Name: "QUEUE_URL", Path: "queue.url"},
	{Name: "QUEUE_REGION", Path: "queue.region"},
	{Name: "QUEUE_ENDPOINT", Path: "queue.endpoint"},
	{Name: "QUEUE_WAIT_TIME", Path: "queue.wait_time"},
	{Name: "QUEUE_VISIBILITY_TIMEOUT", Path: "queue.visibility_timeout"},
	{Name: "REDIS_ADDR", Path: "queue.redis.addr"},
	{Name: "REDIS_PASSWORD", Path: "queue.redis.password"},
	{Name: "REDIS_DB", Path: "queue.redis.db"},
	{Name: "REDIS_WORKER_ID", Path: "queue.redis.worker_id"},
	{Name: "GENERATOR_PROVIDER", Path: "generator.provider"},
	{Name: "GENERATOR_MODEL", Path: "generator.model"},
	{Name: "GENERATOR_BASE_URL", Path: "generator.base_url"},
	{Name: "GENERATOR_TIMEOUT", Path: "generator.timeout"},
	{Name: "GENERATOR_RATE_LIMIT", Path: "generator.rate_limit"},
	{Name: "OPENAI_API_KEY", Path: "generator.api_key"},
	{Name: "OPENAI_API_KEY_SECRET_ID", Path: "generator.api_key_secret_id"},
	{Name: "CDN_BASE_URL", Path: "cdn.base_url"},
	{Name: "POLLER_MAX_CONSECUTIVE_ERRORS", Path: "poller.max_consecutive_errors"},
}

// getEnvSpecs returns the prefixed env mappings for the current identity.
func getEnvSpecs() []EnvSpec {
	id := getIdentity()
	if id.EnvPrefix == "" {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envSpecPaths))
	for _, s := range envSpecPaths {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + s.Name, Path: s.Path})
	}
	return specs
}
