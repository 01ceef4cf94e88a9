package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written as "128", "128B" or "64MiB".
type Size uint64

func ParseSize(s string) (Size, error) {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Size(v), nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

func (s Size) Int() int { return int(s) }

// MiB rounds down to whole mebibytes.
func (s Size) MiB() int { return int(s / humanize.MiByte) }

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Set and Type make Size usable as a pflag.Value.
func (s *Size) Set(v string) error {
	parsed, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Size) Type() string { return "size" }
