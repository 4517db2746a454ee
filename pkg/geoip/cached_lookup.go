package geoip

import (
	"context"

	"github.com/BluceCao2018/funbenchmark.com/pkg/cache"
)

// Resolver bundles a reader and an optional lookup cache behind one method
// so HTTP handlers can take it as a narrow dependency.
type Resolver struct {
	reader *Reader
	cache  *cache.Cache
}

// NewResolver builds a Resolver. A nil reader resolves everything to nil,
// which downstream treats as "no location tags".
func NewResolver(reader *Reader, c *cache.Cache) *Resolver {
	return &Resolver{reader: reader, cache: c}
}

// Resolve looks up geo data for an IP, using the cache when configured.
func (r *Resolver) Resolve(ctx context.Context, ip string) *GeoData {
	if r == nil {
		return nil
	}
	return LookupCached(ctx, r.reader, r.cache, ip)
}

// LookupCached performs a GeoIP lookup through a cache when provided.
// Falls back to direct lookup if cache is nil or reader not initialized.
func LookupCached(ctx context.Context, reader *Reader, c *cache.Cache, ip string) *GeoData {
	if reader == nil {
		return nil
	}
	if c == nil {
		return reader.Lookup(ip)
	}
	val, ok, _ := c.Get(ctx, ip, func(ctx context.Context, key string) (interface{}, bool, error) {
		gd := reader.Lookup(key)
		if gd == nil {
			return nil, false, nil
		}
		return gd, true, nil
	})
	if !ok {
		return nil
	}
	if gd, _ := val.(*GeoData); gd != nil {
		return gd
	}
	return nil
}
