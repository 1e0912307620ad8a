// Package config loads struct configuration from YAML or JSON files and
// overlays environment variables named by `env` struct tags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Loader loads configuration from files and the environment.
type Loader struct {
	envPrefix string
	lookup    LookupFunc
}

// NewLoader creates a loader whose environment variables are prefixed by envPrefix.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		lookup:    os.LookupEnv,
	}
}

// WithLookup replaces the environment source.
func (l *Loader) WithLookup(lookup LookupFunc) *Loader {
	l.lookup = lookup
	return l
}

// Load applies defaults, then the file, then environment overrides.
func (l *Loader) Load(configPath string, config interface{}) error {
	if err := ApplyDefaults(config); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := l.LoadFromFile(configPath, config); err != nil {
		return fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := l.LoadFromEnv(config); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}
	return nil
}

// LoadFromFile decodes a YAML or JSON file into config. An empty path is a no-op.
func (l *Loader) LoadFromFile(configPath string, config interface{}) error {
	if configPath == "" {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config file %s: %w", configPath, err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config file %s: %w", configPath, err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	return nil
}

// LoadFromEnv overrides every field carrying an `env` tag whose variable is set.
// Nested structs are walked but do not contribute to the variable name.
func (l *Loader) LoadFromEnv(config interface{}) error {
	return walk(reflect.ValueOf(config), func(field reflect.Value, sf reflect.StructField) error {
		name := sf.Tag.Get("env")
		if name == "" {
			return nil
		}
		key := l.envName(name)
		value, ok := l.lookup(key)
		if !ok || value == "" {
			return nil
		}
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", sf.Name, key, err)
		}
		return nil
	})
}

// EnvNames lists the fully prefixed environment variables config understands.
func (l *Loader) EnvNames(config interface{}) []string {
	var names []string
	_ = walk(reflect.ValueOf(config), func(_ reflect.Value, sf reflect.StructField) error {
		if name := sf.Tag.Get("env"); name != "" {
			names = append(names, l.envName(name))
		}
		return nil
	})
	return names
}

func (l *Loader) envName(name string) string {
	name = strings.ToUpper(name)
	if l.envPrefix != "" {
		return l.envPrefix + "_" + name
	}
	return name
}

// ApplyDefaults fills zero valued fields from their `default` tags.
func ApplyDefaults(config interface{}) error {
	return walk(reflect.ValueOf(config), func(field reflect.Value, sf reflect.StructField) error {
		def, ok := sf.Tag.Lookup("default")
		if !ok || def == "" || !field.IsZero() {
			return nil
		}
		if err := setFromString(field, def); err != nil {
			return fmt.Errorf("invalid default for %s: %w", sf.Name, err)
		}
		return nil
	})
}

// walk visits every settable leaf field, allocating nil struct pointers on the way.
func walk(value reflect.Value, visit func(reflect.Value, reflect.StructField) error) error {
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			if !value.CanSet() {
				return nil
			}
			value.Set(reflect.New(value.Type().Elem()))
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil
	}

	t := value.Type()
	for i := 0; i < value.NumField(); i++ {
		field := value.Field(i)
		sf := t.Field(i)
		if !field.CanSet() {
			continue
		}

		inner := field.Type()
		if inner.Kind() == reflect.Ptr {
			inner = inner.Elem()
		}
		if inner.Kind() == reflect.Struct && inner != reflect.TypeOf(time.Time{}) {
			if err := walk(field, visit); err != nil {
				return err
			}
			continue
		}

		if err := visit(field, sf); err != nil {
			return err
		}
	}
	return nil
}

func setFromString(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", value)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid uint value: %s", value)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// WriteExample serializes config to configPath, choosing the format by extension.
func (l *Loader) WriteExample(configPath string, config interface{}) error {
	var (
		data []byte
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfigPath checks that configPath exists and has a supported extension.
func ValidateConfigPath(configPath string) error {
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configPath)
	}
	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml", ".json":
		return nil
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}
