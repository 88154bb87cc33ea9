package cfg

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/pkg/utils"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

const envPrefix = "HEAPDB"

// StorageConfig carries the knobs of the storage stack. Values come from
// the environment (HEAPDB_* variables), optionally seeded from a .env
// file.
type StorageConfig struct {
	Environment string `split_words:"true"`

	DataDir  string `split_words:"true"`
	PoolSize uint64 `split_words:"true"`
}

func Default() StorageConfig {
	return StorageConfig{
		Environment: EnvDev,
		DataDir:     "data",
		PoolSize:    64,
	}
}

// Load reads the configuration from the environment, optionally seeded
// from the given .env file. With an empty path a missing ./.env is not
// an error; an explicitly named file must exist.
func Load(envFile string) (StorageConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return StorageConfig{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return StorageConfig{}, fmt.Errorf("processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return StorageConfig{}, err
	}

	return cfg, nil
}

func (c StorageConfig) Validate() error {
	if c.Environment != EnvDev && c.Environment != EnvProd {
		return fmt.Errorf("invalid environment %q", c.Environment)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.PoolSize == 0 {
		return fmt.Errorf("pool size must be greater than zero")
	}

	return nil
}

// NewLogger builds the process logger: human-readable in dev, JSON in
// prod.
func (c StorageConfig) NewLogger() common.Logger {
	if c.Environment == EnvProd {
		return utils.Must(zap.NewProduction()).Sugar()
	}

	return utils.Must(zap.NewDevelopment()).Sugar()
}
