// Package config loads the server configuration from defaults, an optional config file, and WEBCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/navigatorvzhang/web-chatbot/codec"
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string       `mapstructure:"listen_addr"`
	LogLevel   string       `mapstructure:"log_level"`
	Worker     WorkerConfig `mapstructure:"worker"`
}

// WorkerConfig describes how to launch the chat worker.
type WorkerConfig struct {
	Command    string        `mapstructure:"command"`
	Args       []string      `mapstructure:"args"`
	Script     string        `mapstructure:"script"`
	Dir        string        `mapstructure:"dir"`
	Env        []string      `mapstructure:"env"`
	InputStyle string        `mapstructure:"input_style"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CommandArgs returns the arguments that precede the worker's mode flag.
func (w WorkerConfig) CommandArgs() []string {
	args := append([]string{}, w.Args...)
	if w.Script != "" {
		args = append(args, w.Script)
	}
	return args
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "0.0.0.0:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("worker.command", "python3")
	v.SetDefault("worker.args", []string{"-u"})
	v.SetDefault("worker.script", "chatbot.py")
	v.SetDefault("worker.dir", "")
	v.SetDefault("worker.env", []string{"PYTHON_SHELL=1"})
	v.SetDefault("worker.input_style", "arg")
	v.SetDefault("worker.timeout", 2*time.Minute)
}

// New returns a viper instance with defaults and env bindings, reading path if it is not empty.
// Callers may Set overrides on it before passing it to Unmarshal.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("webchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}
	return v, nil
}

func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load is New followed by Unmarshal.
func Load(path string) (Config, error) {
	v, err := New(path)
	if err != nil {
		return Config{}, err
	}
	return Unmarshal(v)
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.Worker.Command == "" {
		return errors.New("worker.command is required")
	}
	if c.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must not be negative, got %s", c.Worker.Timeout)
	}
	if _, err := codec.ParseInputStyle(c.Worker.InputStyle); err != nil {
		return fmt.Errorf("worker.input_style: %w", err)
	}
	return nil
}
