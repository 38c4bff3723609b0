package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity used for file discovery and environment variables.
const (
	ConfigName = "s3contents"
	EnvPrefix  = "S3CONTENTS"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// EnvSpec maps an environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// Short aliases in addition to the S3CONTENTS_<SECTION>_<KEY> names.
var envAliases = map[string]string{
	"storage.bucket":                "BUCKET",
	"storage.region":                "REGION",
	"storage.endpoint":              "ENDPOINT",
	"storage.prefix":                "PREFIX",
	"storage.backend":               "BACKEND",
	"auth.strategy":                 "AUTH_STRATEGY",
	"auth.static.access_key_id":     "ACCESS_KEY_ID",
	"auth.static.secret_access_key": "SECRET_ACCESS_KEY",
	"auth.static.session_token":     "SESSION_TOKEN",
	"server.host":                   "HOST",
	"server.port":                   "PORT",
	"server.read_timeout":           "READ_TIMEOUT",
	"server.write_timeout":          "WRITE_TIMEOUT",
	"server.shutdown_timeout":       "SHUTDOWN_TIMEOUT",
	"logging.level":                 "LOG_LEVEL",
	"logging.profile":               "LOG_PROFILE",
	"metrics.enabled":               "METRICS_ENABLED",
}

// Load reads configuration with the default file search and applies
// overrides last. See LoadFile.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile reads configuration. Precedence, highest first: overrides,
// environment, the config file, defaults.
//
// When file is empty, s3contents.yaml is searched in the working directory and
// the user config directories; a missing file is not an error. An explicit
// file must exist.
func LoadFile(ctx context.Context, file string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name, envName(spec.Path)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// getEnvSpecs returns the short-alias environment mappings, sorted by name.
func getEnvSpecs() []EnvSpec {
	specs := make([]EnvSpec, 0, len(envAliases))
	for path, alias := range envAliases {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + alias, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// envName returns the long environment variable name for key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// searchPaths lists the directories searched for s3contents.yaml.
func searchPaths() []string {
	paths := []string{"."}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, ConfigName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigName))
	}
	return paths
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
