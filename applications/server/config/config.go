package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

type Server struct {
	API      Api      `yaml:"api"`
	Download Download `yaml:"download"`
	Transfer Transfer `yaml:"transfer"`
	Upload   Upload   `yaml:"upload"`
}

type Api struct {
	HTTPAddr string `yaml:"http_addr"`
}

type Download struct {
	Root         string   `yaml:"root"`
	Speed        ByteSize `yaml:"speed"`
	MaxRanges    int      `yaml:"max_ranges"`
	CacheControl string   `yaml:"cache_control"`
}

type Transfer struct {
	MemoryLimit    ByteSize `yaml:"memory_limit"`
	SafetyFraction float64  `yaml:"safety_fraction"`
}

type Upload struct {
	Enabled       bool              `yaml:"enabled"`
	Dir           string            `yaml:"dir"`
	StagingDir    string            `yaml:"staging_dir"`
	MaxSize       ByteSize          `yaml:"max_size"`
	AllowedMIME   []string          `yaml:"allowed_mime"`
	PreserveNames bool              `yaml:"preserve_names"`
	Overwrite     bool              `yaml:"overwrite"`
	Intolerant    bool              `yaml:"intolerant"`
	Destinations  map[string]string `yaml:"destinations"`
}

// ByteSize is a byte count written in the config as "100 MB", "64KiB" or a
// plain number.
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	*b = ByteSize(n)

	return nil
}

func (b ByteSize) String() string {
	return humanize.Bytes(uint64(b))
}

func Parse(path string) (Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("can't read config file: %w", err)
	}

	var cfg Server
	if err = yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("can't parse config file: %w", err)
	}

	return cfg, nil
}

func (s Server) Validate() error {
	if s.API.HTTPAddr == "" {
		return errors.New("api.http_addr is required")
	}
	if s.Download.Root == "" {
		return errors.New("download.root is required")
	}
	if s.Download.MaxRanges < 0 {
		return errors.New("download.max_ranges must not be negative")
	}
	if s.Transfer.SafetyFraction < 0 || s.Transfer.SafetyFraction > 1 {
		return fmt.Errorf("transfer.safety_fraction %v is out of (0, 1]", s.Transfer.SafetyFraction)
	}
	if s.Upload.Enabled && s.Upload.Dir == "" {
		return errors.New("upload.dir is required when uploads are enabled")
	}
	for field, dir := range s.Upload.Destinations {
		if dir == "" {
			return fmt.Errorf("upload.destinations.%s has no directory", field)
		}
	}

	return nil
}
