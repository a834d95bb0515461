package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Defaults holds site-wide settings loaded from the optional config
// file. Flags always win over the file; the file wins over nothing.
//
// The resolution chain is: ./mgpipe.yaml, then
// $HOME/.config/mgpipe/mgpipe.yaml, then MGPIPE_* environment
// variables. A missing file is not an error.
type Defaults struct {
	Partition   string        `mapstructure:"partition"`
	Time        time.Duration `mapstructure:"time"`
	CPUs        int           `mapstructure:"cpus"`
	MemPerCPUMB int           `mapstructure:"mem_per_cpu"`
	NotifyEmail string        `mapstructure:"notify"`
	EnvActivate string        `mapstructure:"env_activate"`

	HostReference string `mapstructure:"host_reference"`
	Kraken2DB     string `mapstructure:"kraken2_db"`
	MetaphlanDB   string `mapstructure:"metaphlan_db"`
	HumannNucDB   string `mapstructure:"humann_nucleotide_db"`
	HumannProtDB  string `mapstructure:"humann_protein_db"`
}

// LoadDefaults reads the config file chain.
func LoadDefaults() (*Defaults, error) {
	v := viper.New()
	v.SetConfigName("mgpipe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "mgpipe"))
	}
	v.SetEnvPrefix("MGPIPE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var d Defaults
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &d, nil
}

// Apply fills any unset scheduler options from the defaults.
func (d *Defaults) Apply(o *SchedulerOptions) {
	if o.Partition == "" {
		o.Partition = d.Partition
	}
	if o.Time == 0 {
		o.Time = d.Time
	}
	if o.CPUs == 0 {
		o.CPUs = d.CPUs
	}
	if o.MemPerCPUMB == 0 {
		o.MemPerCPUMB = d.MemPerCPUMB
	}
	if o.NotifyEmail == "" {
		o.NotifyEmail = d.NotifyEmail
	}
	if o.EnvActivate == "" {
		o.EnvActivate = d.EnvActivate
	}
}
