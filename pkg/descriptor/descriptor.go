// Package descriptor builds the OCI-like config.json that tells the domain
// builder which hypervisor, kernel and device tree to boot.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	OCIVersion = "1.0.1"

	FileName       = "config.json"
	KernelFileName = "unikernel.bin"
	DTBFileName    = "uni.dtb"
)

var ErrInvalidDescriptor = errors.New("invalid guest descriptor")

// PathMode controls how asset paths are written into the descriptor.
type PathMode string

const (
	// PathBare writes plain file names ("unikernel.bin").
	PathBare PathMode = "bare"
	// PathQualified prefixes the mount point ("/lfs/unikernel.bin").
	PathQualified PathMode = "qualified"
)

// Descriptor mirrors the fixed config.json schema.
type Descriptor struct {
	OCIVersion string `json:"ociVersion"`
	VM         VM     `json:"vm"`
}

type VM struct {
	Hypervisor Hypervisor `json:"hypervisor"`
	Kernel     Kernel     `json:"kernel"`
	HWConfig   HWConfig   `json:"hwconfig"`
}

type Hypervisor struct {
	Path       string   `json:"path"`
	Parameters []string `json:"parameters"`
}

type Kernel struct {
	Path       string   `json:"path"`
	Parameters []string `json:"parameters"`
}

type HWConfig struct {
	DeviceTree string `json:"devicetree"`
}

// Options are the inputs New turns into a Descriptor.
type Options struct {
	HypervisorPath   string
	HypervisorParams []string
	KernelParams     []string
	MountPoint       string
	PathMode         PathMode
}

// DefaultOptions matches the sample guest.
func DefaultOptions() Options {
	return Options{
		HypervisorPath:   "xen",
		HypervisorParams: []string{"pvcalls=true"},
		KernelParams:     []string{"port=8124", "hello world"},
		MountPoint:       "/lfs",
		PathMode:         PathBare,
	}
}

func New(opts Options) (*Descriptor, error) {
	if opts.HypervisorPath == "" {
		return nil, fmt.Errorf("%w: hypervisor path is empty", ErrInvalidDescriptor)
	}

	kernelPath, err := assetPath(opts, KernelFileName)
	if err != nil {
		return nil, err
	}
	dtbPath, err := assetPath(opts, DTBFileName)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		OCIVersion: OCIVersion,
		VM: VM{
			Hypervisor: Hypervisor{
				Path:       opts.HypervisorPath,
				Parameters: nonNil(opts.HypervisorParams),
			},
			Kernel: Kernel{
				Path:       kernelPath,
				Parameters: nonNil(opts.KernelParams),
			},
			HWConfig: HWConfig{DeviceTree: dtbPath},
		},
	}, nil
}

func assetPath(opts Options, name string) (string, error) {
	switch opts.PathMode {
	case PathBare, "":
		return name, nil
	case PathQualified:
		if opts.MountPoint == "" {
			return "", fmt.Errorf("%w: qualified paths need a mount point", ErrInvalidDescriptor)
		}
		return path.Join(opts.MountPoint, name), nil
	default:
		return "", fmt.Errorf("%w: unknown path mode %q", ErrInvalidDescriptor, opts.PathMode)
	}
}

// encode as [] rather than null
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (d *Descriptor) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if d.OCIVersion != OCIVersion {
		return nil, fmt.Errorf("%w: ociVersion %q, want %q", ErrInvalidDescriptor, d.OCIVersion, OCIVersion)
	}
	return &d, nil
}

// Mismatch describes a descriptor path that does not name the file staged for it.
type Mismatch struct {
	Field      string
	Descriptor string
	Staged     string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s is %q but the asset is staged at %q", m.Field, m.Descriptor, m.Staged)
}

// Check resolves the kernel and device tree paths against mountPoint and
// reports those that do not point at mountPoint/<file>. Bare names are
// resolved relative to the mount point.
func (d *Descriptor) Check(mountPoint string) []Mismatch {
	var out []Mismatch
	for _, c := range []struct {
		field, value, file string
	}{
		{"vm.kernel.path", d.VM.Kernel.Path, KernelFileName},
		{"vm.hwconfig.devicetree", d.VM.HWConfig.DeviceTree, DTBFileName},
	} {
		staged := path.Join(mountPoint, c.file)
		if resolve(mountPoint, c.value) != staged {
			out = append(out, Mismatch{Field: c.field, Descriptor: c.value, Staged: staged})
		}
	}
	return out
}

func resolve(mountPoint, p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(mountPoint, p)
}
