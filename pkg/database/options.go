package database

import (
	"time"

	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/config"
)

// FreshData is handed to FreshDataCallback when a network response lands.
type FreshData struct {
	Identifier string
	Data       any
}

// RequestOptions are per-call overrides of the application defaults.
type RequestOptions struct {
	CacheEnable bool
	// DTL is the time-to-live of the cache entry in seconds. Zero uses the application default.
	DTL int
	// FreshDataCallback observes network data before it is written to the cache.
	FreshDataCallback func(FreshData)
	// UseMasterKey sends the master key header for this call only.
	UseMasterKey bool
}

// resolveOptions layers explicit options over the application defaults.
// Without explicit options the application's cache settings apply.
func resolveOptions(defaults config.CacheOptions, opts []RequestOptions) (cache.Policy, bool) {
	if len(opts) == 0 {
		return cache.Policy{
			Enable: defaults.Enable,
			DTL:    time.Duration(defaults.DTL) * time.Second,
		}, false
	}
	o := opts[len(opts)-1]
	dtl := o.DTL
	if dtl <= 0 {
		dtl = defaults.DTL
	}
	policy := cache.Policy{
		Enable: o.CacheEnable,
		DTL:    time.Duration(dtl) * time.Second,
	}
	if cb := o.FreshDataCallback; cb != nil {
		policy.OnFresh = func(identifier string, data any) {
			cb(FreshData{Identifier: identifier, Data: data})
		}
	}
	return policy, o.UseMasterKey
}
