// Package config loads the process configuration of a blockflow host.
//
// The file is YAML. Missing fields keep their defaults; the result is
// validated with struct tags before use. CLI flags override file values
// after Load returns.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the host configuration.
type Config struct {
	Listen          string        `yaml:"listen" validate:"omitempty,hostname_port"`
	Database        string        `yaml:"database" validate:"required"`
	Strict          bool          `yaml:"strict"`
	TickInterval    time.Duration `yaml:"tick_interval" validate:"gt=0"`
	AsyncTimeout    time.Duration `yaml:"async_timeout" validate:"gte=0"`
	FrameBudget     int           `yaml:"frame_budget" validate:"min=1024"`
	DescFrameBudget int           `yaml:"desc_frame_budget" validate:"min=256,ltefield=FrameBudget"`
	Reconnect       Reconnect     `yaml:"reconnect"`
	Codec           string        `yaml:"codec" validate:"oneof=json msgpack"`
	FlowsDir        string        `yaml:"flows_dir"`
}

// Reconnect bounds the client reconnect backoff.
type Reconnect struct {
	Min time.Duration `yaml:"min" validate:"gt=0"`
	Max time.Duration `yaml:"max" validate:"gtefield=Min"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:        "blockflow.db",
		TickInterval:    time.Second,
		FrameBudget:     64 * 1024,
		DescFrameBudget: 16 * 1024,
		Reconnect: Reconnect{
			Min: 250 * time.Millisecond,
			Max: 30 * time.Second,
		},
		Codec: "json",
	}
}

// Load reads path on top of Default and validates the result.
// Unknown fields are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their yaml names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = describe(fe)
	}
	return &Error{Fields: msgs}
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %v", field, fe.Value())
	case "gtefield", "ltefield":
		return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
}

// Error lists every invalid field.
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return "invalid config: " + strings.Join(e.Fields, "; ")
}
