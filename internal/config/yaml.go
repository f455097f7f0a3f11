package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// errorType mirrors pkg/signature's sentinel error style: comparison-stable
// errors for configuration-layer failures.
type errorType string

func (e errorType) Error() string { return string(e) }

// ErrUnknownOption is returned when the YAML file contains a key this
// loader does not recognize, per spec.md §7's "Configuration (fatal at
// startup): unknown option".
const ErrUnknownOption = errorType("config: unknown option")

// ErrMissingRequired is returned when Buckets.BucketFile, the one required
// option, is absent.
const ErrMissingRequired = errorType("config: missing required option Buckets.BucketFile")

// yamlDoc mirrors spec.md §6's flat Section.Key table (Buckets.BucketFile,
// Buckets.BufSize, ...) as nested YAML sections. yaml.v3's KnownFields
// strict decoding rejects any key not named here.
type yamlDoc struct {
	Buckets struct {
		BucketFile    string `yaml:"bucket_file"`
		BufSize       int    `yaml:"buf_size"`
		ShakeBufSize  int    `yaml:"shake_buf_size"`
		ShakeSecurity int    `yaml:"shake_security"`
		SlurpBufSize  int    `yaml:"slurp_buf_size"`
	} `yaml:"buckets"`
	Index struct {
		PresortBuffer int `yaml:"presort_buffer"`
	} `yaml:"index"`
	Sorter struct {
		StreamBuffer int `yaml:"stream_buffer"`
	} `yaml:"sorter"`
}

// Load reads and parses a YAML configuration file at path, applying its
// values over New()'s defaults. Unrecognized keys are fatal
// (ErrUnknownOption); a missing Buckets.BucketFile is fatal
// (ErrMissingRequired).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc yamlDoc
	if err := dec.Decode(&doc); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownOption, err)
		}
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if doc.Buckets.BucketFile == "" {
		return nil, ErrMissingRequired
	}

	opts := []Option{BucketFile(doc.Buckets.BucketFile)}
	if doc.Buckets.BufSize > 0 {
		opts = append(opts, BufSize(doc.Buckets.BufSize))
	}
	if doc.Buckets.ShakeBufSize > 0 {
		opts = append(opts, ShakeBufSize(doc.Buckets.ShakeBufSize))
	}
	opts = append(opts, ShakeSecurity(doc.Buckets.ShakeSecurity))
	if doc.Buckets.SlurpBufSize > 0 {
		opts = append(opts, SlurpBufSize(doc.Buckets.SlurpBufSize))
	}
	if doc.Index.PresortBuffer > 0 {
		opts = append(opts, PresortBuffer(doc.Index.PresortBuffer))
	}
	if doc.Sorter.StreamBuffer > 0 {
		opts = append(opts, StreamBuffer(doc.Sorter.StreamBuffer))
	}
	return New(opts...), nil
}
