package config

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Fantasim/btcoracle/internal/models"
)

type providersFile struct {
	Providers []models.ProviderConfig `mapstructure:"providers"`
}

// LoadProviders reads the Bitcoin provider list from a YAML, JSON or TOML file.
// Zero timeouts and rates are replaced by the package defaults.
func LoadProviders(path string) ([]models.ProviderConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read providers file %q: %s", ErrInvalidConfig, path, err)
	}

	var file providersFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("%w: decode providers file %q: %s", ErrInvalidConfig, path, err)
	}

	for i := range file.Providers {
		p := &file.Providers[i]
		if p.Timeout <= 0 {
			p.Timeout = ProviderDefaultTimeout
		}
		if p.RPS <= 0 {
			p.RPS = ProviderDefaultRPS
		}
	}

	slog.Info("providers file loaded",
		"file", path,
		"count", len(file.Providers),
	)

	return file.Providers, nil
}
