package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pol2cat.defaults.json"

// DefaultSubarrays are the POL-2 sub-array identifiers processed in turn.
var DefaultSubarrays = []string{"S4A", "S4B", "S4C", "S4D", "S8A", "S8B", "S8C", "S8D"}

// ToolDirVars are the environment variables naming the Starlink package
// directories that commands are resolved against.
var ToolDirVars = []string{"SMURF_DIR", "KAPPA_DIR", "POLPACK_DIR", "CURSA_DIR"}

// MosaicMethods are the pixel spreading schemes wcsmosaic accepts.
var MosaicMethods = []string{"nearest", "bilin", "sincsinc", "sinc", "somb", "sombcos", "gauss"}

// PipelineConfig holds the tunable parts of the reduction recipe. Fields
// omitted from the JSON file keep their defaults through the Get* methods.
type PipelineConfig struct {
	// Spike removal (KAPPA:FFCLEAN)
	FFCleanBox  *int      `json:"ffclean_box,omitempty"`
	FFCleanClip []float64 `json:"ffclean_clip,omitempty"`

	// Mosaicking (KAPPA:WCSMOSAIC)
	MosaicMethod *string `json:"mosaic_method,omitempty"`

	// Sub-arrays processed independently before the final combination.
	Subarrays []string `json:"subarrays,omitempty"`

	// ToolDirs overrides SMURF_DIR, KAPPA_DIR, POLPACK_DIR and CURSA_DIR.
	ToolDirs map[string]string `json:"tool_dirs,omitempty"`

	// VectorScale is the PNG plot length, in pixels, of a unit vector.
	VectorScale *float64 `json:"vector_scale,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyPipelineConfig returns a PipelineConfig with every field unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field set to its default.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		FFCleanBox:   ptrInt(3),
		FFCleanClip:  []float64{2, 2, 2},
		MosaicMethod: ptrString("bilin"),
		Subarrays:    append([]string(nil), DefaultSubarrays...),
		ToolDirs:     map[string]string{},
		VectorScale:  ptrFloat64(1.0),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *PipelineConfig) Validate() error {
	if c.FFCleanBox != nil {
		if *c.FFCleanBox < 1 || *c.FFCleanBox%2 == 0 {
			return fmt.Errorf("ffclean_box must be a positive odd number, got %d", *c.FFCleanBox)
		}
	}

	if c.FFCleanClip != nil {
		if len(c.FFCleanClip) == 0 || len(c.FFCleanClip) > 5 {
			return fmt.Errorf("ffclean_clip must hold 1 to 5 values, got %d", len(c.FFCleanClip))
		}
		for _, v := range c.FFCleanClip {
			if v <= 0 {
				return fmt.Errorf("ffclean_clip values must be positive, got %g", v)
			}
		}
	}

	if c.MosaicMethod != nil {
		ok := false
		for _, m := range MosaicMethods {
			if strings.EqualFold(*c.MosaicMethod, m) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("mosaic_method %q not one of %s", *c.MosaicMethod, strings.Join(MosaicMethods, ", "))
		}
	}

	if c.Subarrays != nil {
		if len(c.Subarrays) == 0 {
			return fmt.Errorf("subarrays must not be empty")
		}
		seen := make(map[string]bool)
		for _, s := range c.Subarrays {
			key := strings.ToUpper(strings.TrimSpace(s))
			if key == "" {
				return fmt.Errorf("subarrays must not contain blank names")
			}
			if seen[key] {
				return fmt.Errorf("duplicate subarray %q", s)
			}
			seen[key] = true
		}
	}

	for name := range c.ToolDirs {
		known := false
		for _, v := range ToolDirVars {
			if name == v {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown tool_dirs entry %q (want one of %s)", name, strings.Join(ToolDirVars, ", "))
		}
	}

	if c.VectorScale != nil && *c.VectorScale <= 0 {
		return fmt.Errorf("vector_scale must be positive, got %g", *c.VectorScale)
	}

	return nil
}

// GetFFCleanBox returns the ffclean_box value or the default.
func (c *PipelineConfig) GetFFCleanBox() int {
	if c.FFCleanBox == nil {
		return 3
	}
	return *c.FFCleanBox
}

// GetFFCleanClip returns the ffclean_clip value or the default.
func (c *PipelineConfig) GetFFCleanClip() []float64 {
	if len(c.FFCleanClip) == 0 {
		return []float64{2, 2, 2}
	}
	return c.FFCleanClip
}

// GetMosaicMethod returns the mosaic_method value or the default.
func (c *PipelineConfig) GetMosaicMethod() string {
	if c.MosaicMethod == nil {
		return "bilin"
	}
	return strings.ToLower(*c.MosaicMethod)
}

// GetSubarrays returns the upper-cased sub-array names or the defaults.
func (c *PipelineConfig) GetSubarrays() []string {
	if len(c.Subarrays) == 0 {
		return append([]string(nil), DefaultSubarrays...)
	}
	out := make([]string, len(c.Subarrays))
	for i, s := range c.Subarrays {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

// GetVectorScale returns the vector_scale value or the default.
func (c *PipelineConfig) GetVectorScale() float64 {
	if c.VectorScale == nil {
		return 1.0
	}
	return *c.VectorScale
}

// ToolEnv returns the configured tool directory overrides as KEY=value
// pairs in a stable order.
func (c *PipelineConfig) ToolEnv() []string {
	keys := make([]string, 0, len(c.ToolDirs))
	for k := range c.ToolDirs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.ToolDirs[k])
	}
	return env
}
