// Package config loads the board file that describes storage, guest,
// domain and channel settings. Values come from defaults, then the YAML
// file, then UNISTAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/network"
	"github.com/maxdollinger/unistage/pkg/storage"
	"github.com/maxdollinger/unistage/pkg/vchan"
)

var ErrInvalidConfig = errors.New("invalid config")

const EnvPrefix = "UNISTAGE_"

type Config struct {
	Board      string           `yaml:"board"`
	Storage    StorageConfig    `yaml:"storage"`
	Guest      GuestConfig      `yaml:"guest"`
	Descriptor DescriptorConfig `yaml:"descriptor"`
	Domain     DomainConfig     `yaml:"domain"`
	Network    network.Config   `yaml:"network"`
	Channel    ChannelConfig    `yaml:"channel"`
	Journal    string           `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
}

type StorageConfig struct {
	Type       storage.FsType `yaml:"type"`
	Root       string         `yaml:"root"`
	Partition  string         `yaml:"partition"`
	MountPoint string         `yaml:"mount_point"`
	Size       Size           `yaml:"size"`
	Lock       bool           `yaml:"lock"`
	LockDir    string         `yaml:"lock_dir"`
}

// GuestSource selects where the guest images are read from.
type GuestSource string

const (
	GuestFile   GuestSource = "file"
	GuestOCI    GuestSource = "oci"
	GuestStatic GuestSource = "static"
)

type GuestConfig struct {
	Source     GuestSource `yaml:"source"`
	Kernel     string      `yaml:"kernel"`
	DeviceTree string      `yaml:"device_tree"`
	Image      string      `yaml:"image"`
	Platform   string      `yaml:"platform"`
}

type DescriptorConfig struct {
	Hypervisor       string              `yaml:"hypervisor"`
	HypervisorParams []string            `yaml:"hypervisor_params"`
	KernelParams     []string            `yaml:"kernel_params"`
	PathMode         descriptor.PathMode `yaml:"path_mode"`
}

type DomainConfig struct {
	Name     string        `yaml:"name"`
	Memory   Size          `yaml:"memory"`
	VCPUs    int           `yaml:"vcpus"`
	StateDir string        `yaml:"state_dir"`
	Kernel   string        `yaml:"kernel"`      // host path, defaults to the staged image
	DTB      string        `yaml:"device_tree"` // host path, defaults to the staged blob
	Start    bool          `yaml:"start"`
	Timeout  time.Duration `yaml:"timeout"`
	Console  string        `yaml:"console"` // guest console log followed after boot
}

type ChannelConfig struct {
	Transport  string        `yaml:"transport"`
	Dir        string        `yaml:"dir"`
	Name       string        `yaml:"name"`
	DomID      int           `yaml:"domid"` // used when no domain was created
	SendBuf    Size          `yaml:"send_buf"`
	RecvBuf    Size          `yaml:"recv_buf"`
	Mode       string        `yaml:"mode"`
	Timeout    time.Duration `yaml:"timeout"`
	Iterations int           `yaml:"iterations"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Board: "xenvm",
		Storage: StorageConfig{
			Type:       storage.FsTypeDir,
			Root:       "/var/lib/unistage/storage",
			Partition:  "storage",
			MountPoint: storage.DefaultMountPoint,
			Size:       Size(storage.DefaultImageSize),
			LockDir:    "/run/unistage",
		},
		Guest: GuestConfig{
			Source:     GuestFile,
			Kernel:     descriptor.KernelFileName,
			DeviceTree: descriptor.DTBFileName,
		},
		Descriptor: DescriptorConfig{
			Hypervisor:       "xen",
			HypervisorParams: []string{"pvcalls=true"},
			KernelParams:     []string{"port=8124", "hello world"},
			PathMode:         descriptor.PathBare,
		},
		Domain: DomainConfig{
			Name:     "unikernel",
			Memory:   Size(64 << 20),
			VCPUs:    1,
			StateDir: "/var/lib/unistage/domains",
			Start:    true,
			Timeout:  30 * time.Second,
		},
		Channel: ChannelConfig{
			Transport:  "unix",
			Dir:        "/run/unistage/vchan",
			Name:       "sample_vchan",
			DomID:      1,
			SendBuf:    128,
			RecvBuf:    256,
			Mode:       "blocking",
			Timeout:    5 * time.Second,
			Iterations: 100,
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// Load reads the board file at path over the defaults and applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		d := yaml.NewDecoder(file)
		d.KnownFields(true)
		if err := d.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from UNISTAGE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"BOARD":             &c.Board,
		"STORAGE_ROOT":      &c.Storage.Root,
		"STORAGE_PARTITION": &c.Storage.Partition,
		"GUEST_KERNEL":      &c.Guest.Kernel,
		"GUEST_DTB":         &c.Guest.DeviceTree,
		"GUEST_IMAGE":       &c.Guest.Image,
		"DOMAIN_NAME":       &c.Domain.Name,
		"DOMAIN_STATE_DIR":  &c.Domain.StateDir,
		"NETWORK_BRIDGE":    &c.Network.Bridge,
		"CHANNEL_DIR":       &c.Channel.Dir,
		"JOURNAL":           &c.Journal,
		"LOG_FORMAT":        &c.Log.Format,
		"LOG_LEVEL":         &c.Log.Level,
	}
	for key, field := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*field = v
		}
	}

	if v, ok := lookup(EnvPrefix + "STORAGE_TYPE"); ok {
		c.Storage.Type = storage.FsType(v)
	}
	if v, ok := lookup(EnvPrefix + "GUEST_SOURCE"); ok {
		c.Guest.Source = GuestSource(v)
	}
	if v, ok := lookup(EnvPrefix + "DOMAIN_MEMORY"); ok {
		size, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("%w: %sDOMAIN_MEMORY: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Domain.Memory = size
	}
	if v, ok := lookup(EnvPrefix + "CHANNEL_DOMID"); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sCHANNEL_DOMID: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Channel.DomID = id
	}

	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case storage.FsTypeDir, storage.FsTypeExt4, storage.FsTypeMem:
	default:
		errs = append(errs, fmt.Errorf("storage.type %q", c.Storage.Type))
	}
	if c.Storage.Partition == "" {
		errs = append(errs, errors.New("storage.partition is empty"))
	}

	switch c.Guest.Source {
	case GuestFile, GuestStatic:
	case GuestOCI:
		if c.Guest.Image == "" {
			errs = append(errs, errors.New("guest.image is required for the oci source"))
		}
	default:
		errs = append(errs, fmt.Errorf("guest.source %q", c.Guest.Source))
	}

	switch c.Descriptor.PathMode {
	case descriptor.PathBare, descriptor.PathQualified:
	default:
		errs = append(errs, fmt.Errorf("descriptor.path_mode %q", c.Descriptor.PathMode))
	}

	if c.Domain.Name == "" {
		errs = append(errs, errors.New("domain.name is empty"))
	}
	if err := c.Network.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Channel.Transport {
	case "unix", "pipe":
	default:
		errs = append(errs, fmt.Errorf("channel.transport %q", c.Channel.Transport))
	}
	switch c.Channel.Mode {
	case "blocking", "nonblocking":
	default:
		errs = append(errs, fmt.Errorf("channel.mode %q", c.Channel.Mode))
	}
	if c.Channel.SendBuf == 0 || c.Channel.RecvBuf == 0 {
		errs = append(errs, errors.New("channel buffers must not be empty"))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// MountDescriptor returns the storage settings as a mount descriptor.
func (c *Config) MountDescriptor() storage.MountDescriptor {
	return storage.MountDescriptor{
		Type:        c.Storage.Type,
		PartitionID: c.Storage.Partition,
		MountPoint:  c.Storage.MountPoint,
		SizeBytes:   int64(c.Storage.Size),
	}
}

// DescriptorOptions returns the inputs for the guest descriptor.
func (c *Config) DescriptorOptions() descriptor.Options {
	return descriptor.Options{
		HypervisorPath:   c.Descriptor.Hypervisor,
		HypervisorParams: c.Descriptor.HypervisorParams,
		KernelParams:     c.Descriptor.KernelParams,
		MountPoint:       c.Storage.MountPoint,
		PathMode:         c.Descriptor.PathMode,
	}
}

// ChannelMode returns the configured channel mode.
func (c *Config) ChannelMode() vchan.Mode {
	if c.Channel.Mode == vchan.NonBlocking.String() {
		return vchan.NonBlocking
	}
	return vchan.Blocking
}

// Marshal renders the effective configuration, used by `unistage config`.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
