package modwire

import (
	"fmt"
	"time"
)

// Config configures a container.
type Config struct {
	LockTimeout time.Duration `yaml:"lockTimeout" toml:"lock_timeout" env:"LOCK_TIMEOUT" default:"30s" desc:"Bounded wait for location, name and module state-change locks"`
	StopTimeout time.Duration `yaml:"stopTimeout" toml:"stop_timeout" env:"STOP_TIMEOUT" default:"10s" desc:"Time an activator gets to stop a module"`

	EventBufferSize int `yaml:"eventBufferSize" toml:"event_buffer_size" env:"EVENT_BUFFER_SIZE" default:"256" desc:"Initial capacity of the event delivery queue"`
	JobQueueSize    int `yaml:"jobQueueSize" toml:"job_queue_size" env:"JOB_QUEUE_SIZE" default:"16" desc:"Pending start-level and refresh jobs before submissions are rejected"`

	BeginningStartLevel     int `yaml:"beginningStartLevel" toml:"beginning_start_level" env:"BEGINNING_START_LEVEL" default:"1" desc:"Active start level after the container is created"`
	DefaultModuleStartLevel int `yaml:"defaultModuleStartLevel" toml:"default_module_start_level" env:"DEFAULT_MODULE_START_LEVEL" default:"1" desc:"Start level of modules that do not declare one"`

	SingletonTieBreak   string `yaml:"singletonTieBreak" toml:"singleton_tie_break" env:"SINGLETON_TIE_BREAK" default:"first-declared" desc:"Winner among singletons of equal version: first-declared or last-declared"`
	AutoRefreshSchedule string `yaml:"autoRefreshSchedule" toml:"auto_refresh_schedule" env:"AUTO_REFRESH_SCHEDULE" desc:"Cron schedule refreshing removal pending revisions; empty disables it"`

	SystemModule SystemModuleConfig `yaml:"systemModule" toml:"system_module"`
}

// SystemModuleConfig describes module 0.
type SystemModuleConfig struct {
	SymbolicName string   `yaml:"symbolicName" toml:"symbolic_name" env:"SYSTEM_MODULE_NAME" default:"modwire.system" required:"true" desc:"Symbolic name of the system module"`
	Version      string   `yaml:"version" toml:"version" env:"SYSTEM_MODULE_VERSION" default:"1.0.0" desc:"Version of the system module and of the packages it exports"`
	Location     string   `yaml:"location" toml:"location" env:"SYSTEM_MODULE_LOCATION" default:"System Module" desc:"Install location of the system module"`
	Packages     []string `yaml:"packages" toml:"packages" env:"SYSTEM_MODULE_PACKAGES" desc:"Packages exported by the system module"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := ProcessConfigDefaults(cfg); err != nil {
		panic(fmt.Sprintf("modwire: invalid config defaults: %v", err))
	}
	return cfg
}

// Validate implements ConfigValidator.
func (c *Config) Validate() error {
	switch {
	case c.LockTimeout <= 0:
		return fmt.Errorf("%w: lock timeout must be positive", ErrConfigValidationFailed)
	case c.StopTimeout <= 0:
		return fmt.Errorf("%w: stop timeout must be positive", ErrConfigValidationFailed)
	case c.EventBufferSize < 1:
		return fmt.Errorf("%w: event buffer size must be at least 1", ErrConfigValidationFailed)
	case c.JobQueueSize < 1:
		return fmt.Errorf("%w: job queue size must be at least 1", ErrConfigValidationFailed)
	case c.BeginningStartLevel < 0:
		return fmt.Errorf("%w: beginning start level must not be negative", ErrConfigValidationFailed)
	case c.DefaultModuleStartLevel < 1:
		return fmt.Errorf("%w: default module start level must be at least 1", ErrConfigValidationFailed)
	}
	if c.SingletonTieBreak != TieBreakFirstDeclared && c.SingletonTieBreak != TieBreakLastDeclared {
		return fmt.Errorf("%w: singleton tie-break %q is neither %s nor %s",
			ErrConfigValidationFailed, c.SingletonTieBreak, TieBreakFirstDeclared, TieBreakLastDeclared)
	}
	return nil
}

var _ ConfigValidator = (*Config)(nil)
