package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/ini.v1"
)

// EnvPrefix marks environment variables that override the settings file.
// Sections and keys are separated by a double underscore:
// LTA_GOOGLE_API__TOKEN -> google_api.token
const EnvPrefix = "LTA_"

// CommonSettings holds the [common] section.
type CommonSettings struct {
	Prefix     string `koanf:"prefix"`
	Extensions string `koanf:"extensions"`
	Namespace  string `koanf:"namespace"`
}

// GoogleAPISettings holds the [google_api] section.
type GoogleAPISettings struct {
	Token         string   `koanf:"token"`
	Credentials   string   `koanf:"credentials"`
	Scopes        []string `koanf:"scopes"`
	SpreadsheetID string   `koanf:"spreadsheet_id"`
}

// LoggingSettings holds the [logging] section.
type LoggingSettings struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	TimeZone string `koanf:"timezone"`
	File     string `koanf:"file"`
	Name     string `koanf:"name"`
}

// Settings is the parsed settings file. It is not modified after Load.
type Settings struct {
	Common    CommonSettings    `koanf:"common"`
	GoogleAPI GoogleAPISettings `koanf:"google_api"`
	Logging   LoggingSettings   `koanf:"logging"`

	path string
	k    *koanf.Koanf
}

var defaults = map[string]interface{}{
	"common.extensions":      "./extensions",
	"common.namespace":       "cogs",
	"google_api.token":       "./token.json",
	"google_api.credentials": "./credentials.json",
	"google_api.scopes":      `["https://www.googleapis.com/auth/spreadsheets.readonly"]`,
	"logging.level":          "info",
	"logging.format":         "pretty",
	"logging.name":           "lol_team_assistant",
}

// Load reads the settings file at path, layered over the built-in defaults and
// under LTA_ environment variables. The path is resolved to an absolute path.
func Load(path string) (*Settings, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path %s: %w", path, err)
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", abs, err)
	}
	if err := k.Load(file.Provider(abs), parserFor(abs)); err != nil {
		return nil, fmt.Errorf("error loading config file %s: %w", abs, err)
	}

	callback := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", callback), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	cfg := Settings{path: abs, k: k}
	decoderConfig := koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			DecodeHook:       stringToListHookFunc(),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, decoderConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Common.Prefix == "" {
		return nil, fmt.Errorf("common.prefix is required")
	}

	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return INIParser()
	}
}

// Path returns the absolute path the settings were read from.
func (s *Settings) Path() string {
	return s.path
}

// String returns the raw value at a dotted section.key path.
func (s *Settings) String(path string) string {
	return s.k.String(path)
}

// List returns the comma separated value at path, see SplitList.
func (s *Settings) List(path string) []string {
	return SplitList(s.k.String(path))
}

// Has reports whether path is set by any layer.
func (s *Settings) Has(path string) bool {
	return s.k.Exists(path)
}

// SplitList splits a comma separated value, trimming each item. Order is
// preserved and an empty value yields nil.
func SplitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// parseList accepts a JSON array of strings or a comma separated list.
func parseList(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("invalid list %q: %w", v, err)
		}
		return out, nil
	}
	return SplitList(v), nil
}

// stringToListHookFunc decodes string values into []string fields.
func stringToListHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return parseList(data.(string))
	}
}

// LoadSecretToken reads DEFAULT.token from the INI secrets file at path.
func LoadSecretToken(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve secrets path %s: %w", path, err)
	}

	f, err := ini.LoadSources(iniLoadOptions, abs)
	if err != nil {
		return "", fmt.Errorf("failed to read secrets file %s: %w", abs, err)
	}

	token := strings.TrimSpace(f.Section(ini.DefaultSection).Key("token").String())
	if token == "" {
		return "", fmt.Errorf("secrets file %s has no DEFAULT.token", abs)
	}
	return token, nil
}

// Template renders a settings file holding the defaults and a placeholder prefix.
func Template() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}
	if err := k.Set("common.prefix", "!"); err != nil {
		return nil, err
	}
	if err := k.Set("google_api.spreadsheet_id", ""); err != nil {
		return nil, err
	}
	return k.Marshal(INIParser())
}
