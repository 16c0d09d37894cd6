package astctx

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvConfig is the only place astctx reads environment variables, the same
// centralize-env-lookups-behind-one-resolver shape as
// pkg/cron/store.go's ResolveCronStorePath.
type EnvConfig struct {
	StorageRoot           string
	RegionConfigPath      string
	LiveProbe             bool
	LogPayloads           bool
	NoConcurrentDownloads bool
}

// LoadEnvConfig reads the $ASTOOL_* environment variables.
func LoadEnvConfig() EnvConfig {
	return EnvConfig{
		StorageRoot:           strings.TrimSpace(os.Getenv("ASTOOL_STORAGE_ROOT")),
		RegionConfigPath:      strings.TrimSpace(os.Getenv("ASTOOL_REGION_CONFIG")),
		LiveProbe:             envFlagSet("ASTOOL_LIVE_PROBE"),
		LogPayloads:           envFlagSet("ASTOOL_LOG_PAYLOADS"),
		NoConcurrentDownloads: envFlagSet("ASTOOL_NO_CONCURRENT_DOWNLOADS"),
	}
}

func envFlagSet(name string) bool {
	return strings.TrimSpace(os.Getenv(name)) == "1"
}

func defaultStorageRoot() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".astool")
	}
	return "astool-data"
}
