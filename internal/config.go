package internal

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/dbcore/novadb/internal/storage"
)

type NovaSqlConfig struct {
	Storage struct {
		Mode     string `mapstructure:"mode"`
		File     string `mapstructure:"file"`
		Workdir  string `mapstructure:"workdir"`
		PageSize int    `mapstructure:"page_size"`

		// ReplacementPolicy selects the buffer pool's victim-selection
		// strategy: "clock", "lru", "mru" or "2q". Empty defaults to 2q.
		ReplacementPolicy string `mapstructure:"replacement_policy"`

		// BufferPoolCapacity is read from the config file but not passed to
		// the engine; buffer pools are always built with
		// bufferpool.DefaultCapacity frames.
		BufferPoolCapacity int `mapstructure:"buffer_pool_capacity"`
	} `mapstructure:"storage"`
	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`
}

type Config struct {
	Mode storage.StorageMode
}

func LoadConfig(path string) (*NovaSqlConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.replacement_policy", "2q")
	v.SetDefault("storage.buffer_pool_capacity", 0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NovaSqlConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
