// Package config holds the indexer's configuration: in-process defaults set
// via functional options (mirroring gsfa/store/option.go's Option
// func(*config) pattern) and an on-disk YAML loader for the flat
// Section.Key table of spec.md §6.
package config

const (
	defaultBufSize       = 64 * 1024
	defaultShakeBufSize  = 1024 * 1024
	defaultShakeSecurity = 0
	defaultSlurpBufSize  = 64 * 1024
	defaultPresortBuffer = 64 * 1024 * 1024
	defaultStreamBuffer  = 4 * 1024 * 1024
)

// Config is the indexer's fully-resolved, immutable configuration, read
// once at startup per spec.md §5's "configuration is read once at startup
// and treated as immutable".
type Config struct {
	BucketFile    string
	BufSize       int
	ShakeBufSize  int
	ShakeSecurity int
	SlurpBufSize  int
	PresortBuffer int
	StreamBuffer  int
}

// Option configures a Config.
type Option func(*Config)

// apply applies opts over c in order.
func (c *Config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// New builds a Config from its defaults plus any overriding options.
func New(opts ...Option) *Config {
	c := &Config{
		BufSize:       defaultBufSize,
		ShakeBufSize:  defaultShakeBufSize,
		ShakeSecurity: defaultShakeSecurity,
		SlurpBufSize:  defaultSlurpBufSize,
		PresortBuffer: defaultPresortBuffer,
		StreamBuffer:  defaultStreamBuffer,
	}
	c.apply(opts)
	return c
}

// BucketFile is the path to the bucket pool file. Required; has no default.
func BucketFile(path string) Option {
	return func(c *Config) { c.BucketFile = path }
}

// BufSize is the bucket pool's reader/writer buffer size in bytes.
func BufSize(n int) Option {
	return func(c *Config) { c.BufSize = n }
}

// ShakeBufSize is the shakedown copy-forward buffer size in bytes.
func ShakeBufSize(n int) Option {
	return func(c *Config) { c.ShakeBufSize = n }
}

// ShakeSecurity selects shakedown's crash-safety mode: 0 none, 1 ordered
// writes, 2 fdatasync barriers (spec.md §3).
func ShakeSecurity(mode int) Option {
	return func(c *Config) { c.ShakeSecurity = mode }
}

// SlurpBufSize is the sequential slurp iterator's read window in bytes.
func SlurpBufSize(n int) Option {
	return func(c *Config) { c.SlurpBufSize = n }
}

// PresortBuffer is the thumbnail cache's slab size in bytes for both passes;
// Pass 2 also derives its maximum cluster size from it.
func PresortBuffer(n int) Option {
	return func(c *Config) { c.PresortBuffer = n }
}

// StreamBuffer sets the Sorter.StreamBuffer value in bytes. It is stored
// and loaded but not read by any pass.
func StreamBuffer(n int) Option {
	return func(c *Config) { c.StreamBuffer = n }
}
