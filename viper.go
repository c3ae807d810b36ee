package forkdaemon

import (
	"github.com/spf13/viper"
)

// ViperSource reads tunables from a viper instance, so they can come from a config
// file, the environment or flags.
type ViperSource struct {
	v *viper.Viper
}

// NewViperSource wraps v. A nil v uses the global viper instance.
func NewViperSource(v *viper.Viper) ViperSource {
	if v == nil {
		v = viper.GetViper()
	}
	return ViperSource{v: v}
}

func (s ViperSource) Lookup(key string) (any, bool) {
	if !s.v.IsSet(key) {
		return nil, false
	}
	return s.v.Get(key), true
}
