package project

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/Masterminds/semver/v3"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ConfigFileName is the project configuration file name.
const ConfigFileName = "kitlock.yaml"

// Loader handles loading and parsing of kitlock project configuration.
type Loader struct {
	workDir string
	viper   *viper.Viper
}

// NewLoader creates a new configuration loader for the given working directory.
func NewLoader(workDir string) *Loader {
	return &Loader{
		workDir: workDir,
		viper:   viper.New(),
	}
}

// Load reads and parses the kitlock.yaml configuration file.
func (l *Loader) Load() (*Project, error) {
	configPath := l.ConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &ConfigNotFoundError{Path: configPath}
	}

	l.viper.SetConfigFile(configPath)
	l.viper.SetConfigType("yaml")
	l.viper.SetDefault("schema-version", SupportedSchemaVersion)

	if err := l.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var p Project
	if err := l.viper.Unmarshal(&p, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		stringToSemverHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	p.dir = l.workDir

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid project config %s: %w", configPath, err)
	}

	return &p, nil
}

// ConfigPath returns the full path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.workDir, ConfigFileName)
}

// Exists checks if the configuration file exists.
func (l *Loader) Exists() bool {
	_, err := os.Stat(l.ConfigPath())
	return err == nil
}

// stringToSemverHookFunc decodes version strings into *semver.Version.
func stringToSemverHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(&semver.Version{}) {
			return data, nil
		}
		return semver.StrictNewVersion(data.(string))
	}
}

// ConfigNotFoundError is returned when the project config file doesn't exist.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("project configuration not found: %s", e.Path)
}

// IsConfigNotFound returns true if the error is a ConfigNotFoundError.
func IsConfigNotFound(err error) bool {
	_, ok := err.(*ConfigNotFoundError)
	return ok
}
