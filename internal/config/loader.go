package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "SEAWAY_STATION_"

var validate = validator.New()

// Load builds the catalog by layering, from lowest to highest precedence:
//  1. built-in defaults
//  2. the YAML file at path, if path is non-empty
//  3. SEAWAY_STATION_* environment variables (timezone, match_cutoff,
//     epoch_is_wall_clock)
//
// A file that lists stations replaces the default stations entirely.
func Load(path string) (*Catalog, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cat Catalog
	if err := k.UnmarshalWithConf("", &cat, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	cat.applyDefaults()

	if err := validate.Struct(&cat); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	loc, err := time.LoadLocation(cat.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cat.Timezone, err)
	}
	cat.loc = loc
	return &cat, nil
}
