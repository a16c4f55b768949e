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

// Identity names the application for env prefixes and config files.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is used until SetIdentity is called.
var DefaultIdentity = Identity{BinaryName: "livyctl", EnvPrefix: "LIVYCTL_", ConfigName: "livyctl"}

// ProjectConfigFile is looked up in the project root.
const ProjectConfigFile = ".livyctl.yaml"

var (
	configMu     sync.RWMutex
	appIdentity  *Identity
	appConfig    *Config
	explicitFile string
)

// EnvSpec binds one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

// SetIdentity overrides the application identity.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// SetConfigFile makes Load read path after the user and project files.
// An empty path clears it.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	explicitFile = strings.TrimSpace(path)
}

// Defaults returns the built-in configuration keyed by dotted path.
func Defaults() map[string]any {
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",
		"server.step_delay":       "2s",

		"logging.level":   "info",
		"logging.profile": "CONSOLE",

		"metrics.enabled": true,
		"metrics.port":    9090,
		"metrics.prefix":  "livyctl_",

		"health.enabled": true,

		"debug.enabled":       false,
		"debug.pprof_enabled": false,

		"livy.retries_max":       3,
		"livy.retry_delay":       "10s",
		"livy.request_timeout":   "60s",
		"livy.rate_limit":        0.0,
		"livy.poll_interval":     "2s",
		"livy.log_poll_interval": "1s",
		"livy.log_chunk_size":    64 * 1024,

		"submission.busy_retry_delay": "5s",

		"deploy.backend":     "",
		"deploy.attempts":    3,
		"deploy.delay":       "2s",
		"deploy.folder":      "livyctl-uploads",
		"deploy.ftp.timeout": "30s",

		"store.backend": "file",
		"store.path":    "",

		"azure.tenant_id":        "",
		"azure.subscription_ids": []string{},
	}
}

// Load resolves configuration with precedence runtime overrides > env >
// explicit file > project file > user file > defaults, and stores the
// result for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	files := getUserConfigPaths()
	if root, err := findProjectRoot(); err == nil {
		files = append(files, filepath.Join(root, ProjectConfigFile))
	}
	configMu.RLock()
	if explicitFile != "" {
		files = append(files, explicitFile)
	}
	explicit := explicitFile
	configMu.RUnlock()

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if f == explicit {
				return nil, fmt.Errorf("config file %s: %w", f, err)
			}
			continue
		}
		v.SetConfigFile(f)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", f, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if c.Livy.RetriesMax < 0 {
		errs = append(errs, errors.New("livy.retries_max must not be negative"))
	}
	if c.Deploy.Attempts < 1 {
		errs = append(errs, errors.New("deploy.attempts must be at least 1"))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.backend must be file or sqlite, got %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

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

// getEnvSpecs lists the env bindings for the current identity.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}
	p := id.EnvPrefix
	bindings := map[string]string{
		"HOST":             "server.host",
		"PORT":             "server.port",
		"READ_TIMEOUT":     "server.read_timeout",
		"WRITE_TIMEOUT":    "server.write_timeout",
		"IDLE_TIMEOUT":     "server.idle_timeout",
		"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
		"STEP_DELAY":       "server.step_delay",

		"LOG_LEVEL":   "logging.level",
		"LOG_PROFILE": "logging.profile",

		"METRICS_ENABLED": "metrics.enabled",
		"METRICS_PORT":    "metrics.port",
		"HEALTH_ENABLED":  "health.enabled",
		"DEBUG":           "debug.enabled",
		"PPROF_ENABLED":   "debug.pprof_enabled",

		"LIVY_RETRIES_MAX":     "livy.retries_max",
		"LIVY_RETRY_DELAY":     "livy.retry_delay",
		"LIVY_REQUEST_TIMEOUT": "livy.request_timeout",
		"LIVY_RATE_LIMIT":      "livy.rate_limit",
		"LIVY_POLL_INTERVAL":   "livy.poll_interval",
		"BUSY_RETRY_DELAY":     "submission.busy_retry_delay",

		"DEPLOY_BACKEND":         "deploy.backend",
		"DEPLOY_ATTEMPTS":        "deploy.attempts",
		"DEPLOY_FOLDER":          "deploy.folder",
		"S3_BUCKET":              "deploy.s3.bucket",
		"S3_REGION":              "deploy.s3.region",
		"S3_ENDPOINT":            "deploy.s3.endpoint",
		"S3_PROFILE":             "deploy.s3.profile",
		"AZBLOB_ACCOUNT":         "deploy.azblob.account",
		"AZBLOB_CONTAINER":       "deploy.azblob.container",
		"AZBLOB_ACCOUNT_KEY":     "deploy.azblob.account_key",
		"AZBLOB_SERVICE_URL":     "deploy.azblob.service_url",
		"FTP_ADDR":               "deploy.ftp.addr",
		"FTP_USERNAME":           "deploy.ftp.username",
		"FTP_PASSWORD":           "deploy.ftp.password",
		"FILE_BASE_DIR":          "deploy.file.base_dir",
		"STORE_BACKEND":          "store.backend",
		"STORE_PATH":             "store.path",
		"AZURE_TENANT_ID":        "azure.tenant_id",
		"AZURE_SUBSCRIPTION_IDS": "azure.subscription_ids",
	}
	specs := make([]EnvSpec, 0, len(bindings))
	for suffix, path := range bindings {
		specs = append(specs, EnvSpec{Name: p + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// getUserConfigPaths returns the per-user config file candidates.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	base := filepath.Join(dir, id.BinaryName, id.ConfigName)
	return []string{base + ".yaml", base + ".json"}
}

var ciBoundaryVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot returns the nearest ancestor of the working directory
// holding a project marker. On CI an absolute workspace hint containing
// the working directory wins. Falls back to the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if isCI() {
		for _, name := range ciBoundaryVars {
			hint := strings.TrimSpace(os.Getenv(name))
			if hint == "" || !filepath.IsAbs(hint) {
				continue
			}
			if st, err := os.Stat(hint); err != nil || !st.IsDir() {
				continue
			}
			if within(cwd, hint) {
				return filepath.Clean(hint), nil
			}
		}
	}
	for dir := cwd; ; {
		for _, marker := range []string{ProjectConfigFile, "go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

func isCI() bool {
	return strings.EqualFold(os.Getenv("CI"), "true") || strings.EqualFold(os.Getenv("GITHUB_ACTIONS"), "true")
}

func within(path, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
