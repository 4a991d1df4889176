// Package config loads process configuration into tagged structs.
//
// Values are resolved in three layers, later layers winning:
//
//	envDefault struct tags
//	YAML/JSON config file
//	environment variables
//
// File and environment values go through the same parser, so a duration
// reads "10s" whether it comes from CLOCK_SKEW or from a JSON file.
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `required:"true"` fails validation if the field remains zero
//   - `yaml:"name"` (or `json:"name"`) names the field in a config file
//
// # Usage
//
//	type Settings struct {
//	    Issuer  string        `env:"USER_POOL_URL" yaml:"issuer" required:"true"`
//	    Timeout time.Duration `env:"TIMEOUT" envDefault:"10s" yaml:"timeout"`
//	}
//
//	cfg, err := config.Load[Settings](
//	    config.New().WithEnvPrefix("AUTHORIZER").WithFileFromEnv("AUTHORIZER_CONFIG_FILE"),
//	)
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

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration. Use [New] and the With* methods to
// configure it, then call [Loader.Load] or [Load].
//
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	fileEnv   string
}

// New creates a Loader that reads environment variables only.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix and an underscore to every env tag.
// WithEnvPrefix("AUTHORIZER") makes `env:"MODE"` read AUTHORIZER_MODE.
// The prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a YAML (.yaml, .yml) or JSON (.json) file to load. A
// missing file is not an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithFileFromEnv reads the config file path from the named environment
// variable at load time. When the variable is set and non-empty it takes
// precedence over [Loader.WithFile].
func (l *Loader) WithFileFromEnv(name string) *Loader {
	l.fileEnv = name
	return l
}

// path returns the config file to load, or "" for none.
func (l *Loader) path() string {
	if l.fileEnv != "" {
		if p := os.Getenv(l.fileEnv); p != "" {
			return p
		}
	}
	return l.filePath
}

// Load populates cfg, which must be a non-nil pointer to a struct, and
// validates it.
//
// Loading failures are *[sserr.Error] with [sserr.CodeInternalConfiguration];
// validation failures carry [sserr.CodeValidationRequired] or
// [sserr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if path := l.path(); path != "" {
		values, err := readFile(path)
		if err != nil {
			return err
		}
		if err := applyFile(rv, values, ""); err != nil {
			return err
		}
	}
	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// Load is the generic form of [Loader.Load].
func Load[T any](l *Loader) (T, error) {
	var cfg T
	err := l.Load(&cfg)
	return cfg, err
}

// MustLoad is [Load] that panics on failure, for use in main.
func MustLoad[T any](l *Loader) T {
	cfg, err := Load[T](l)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// readFile decodes a config file into a generic tree.
func readFile(path string) (map[string]any, error) {
	if strings.Contains(path, "..") {
		return nil, sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", path)
	}

	values := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &values)
	case ".json":
		err = json.Unmarshal(data, &values)
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse file %q", path)
	}
	return values, nil
}

// applyDefaults sets zero-valued fields from their envDefault tag.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}
		if err := setField(field, tag); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

// applyFile sets fields from a decoded config file. Nested structs read
// nested mappings.
func applyFile(rv reflect.Value, values map[string]any, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		key := fileKey(sf)
		if key == "" {
			continue
		}
		raw, ok := values[key]
		if !ok || raw == nil {
			continue
		}

		keyPath := key
		if path != "" {
			keyPath = path + "." + key
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nested, ok := raw.(map[string]any)
			if !ok {
				return sserr.Newf(sserr.CodeInternalConfiguration,
					"config: file key %q must be a mapping", keyPath)
			}
			if err := applyFile(field, nested, keyPath); err != nil {
				return err
			}
			continue
		}

		s, err := scalarString(raw)
		if err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: invalid value for file key %q", keyPath)
		}
		if err := setField(field, s); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from file key %q", sf.Name, keyPath)
		}
	}
	return nil
}

// fileKey returns the name a field has in a config file: its yaml tag,
// else its json tag, else its lowercased name. "-" excludes the field.
func fileKey(sf reflect.StructField) string {
	for _, tagName := range []string{"yaml", "json"} {
		name, _, _ := strings.Cut(sf.Tag.Get(tagName), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return strings.ToLower(sf.Name)
}

// scalarString renders a decoded file value in the textual form setField
// parses. Sequences become comma-separated lists.
func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := scalarString(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

// applyEnv sets fields from environment variables. A nested struct's env
// tag extends the prefix of its fields.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyEnv(field, joinEnv(prefix, envTag)); err != nil {
				return err
			}
			continue
		}
		if envTag == "" {
			continue
		}

		envKey := joinEnv(prefix, envTag)
		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}
	return nil
}

func joinEnv(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}

// setField parses value into field. Supported: string kinds, bool, signed
// integers, time.Duration and []string (comma-separated).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
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
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
