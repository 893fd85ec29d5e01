package dataset

import (
	"github.com/spf13/viper"
)

// Options carries the recognized Dataset open options of spec.md §6,
// decoded through github.com/spf13/viper from the plain map passed as
// OpenOptions.Options, without the core hand-rolling option parsing.
// Environment variables and config files are not read.
type Options struct {
	SubarrayShape   []int64 `mapstructure:"subarray_shape"`
	MaxSubarraySize int64   `mapstructure:"max_subarray_size"`
	MemoryLimit     int64   `mapstructure:"memory_limit"`
	Diskless        bool    `mapstructure:"diskless"`
	Persist         bool    `mapstructure:"persist"`
	Clobber         bool    `mapstructure:"clobber"`
	KeepWeakRef     bool    `mapstructure:"keep_weak_ref"`
}

// DecodeOptions merges raw option values (a plain map, as a caller
// would supply inline) into a viper instance and unmarshals the
// recognized fields, leaving unrecognized keys ignored rather than
// erroring — the core only understands its documented option set.
func DecodeOptions(raw map[string]interface{}) (Options, error) {
	v := viper.New()
	for k, val := range raw {
		v.Set(k, val)
	}
	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
