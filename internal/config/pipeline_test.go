package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()

	if cfg.FFCleanBox == nil || *cfg.FFCleanBox != 3 {
		t.Errorf("Expected FFCleanBox 3, got %v", cfg.FFCleanBox)
	}
	if cfg.MosaicMethod == nil || *cfg.MosaicMethod != "bilin" {
		t.Errorf("Expected MosaicMethod bilin, got %v", cfg.MosaicMethod)
	}
	if len(cfg.Subarrays) != 8 {
		t.Errorf("Expected 8 subarrays, got %v", cfg.Subarrays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyPipelineConfigGetters(t *testing.T) {
	cfg := EmptyPipelineConfig()

	if cfg.GetFFCleanBox() != 3 {
		t.Errorf("GetFFCleanBox() = %d, want 3", cfg.GetFFCleanBox())
	}
	if got := cfg.GetFFCleanClip(); len(got) != 3 || got[0] != 2 {
		t.Errorf("GetFFCleanClip() = %v, want [2 2 2]", got)
	}
	if cfg.GetMosaicMethod() != "bilin" {
		t.Errorf("GetMosaicMethod() = %q, want bilin", cfg.GetMosaicMethod())
	}
	if got := cfg.GetSubarrays(); strings.Join(got, ",") != "S4A,S4B,S4C,S4D,S8A,S8B,S8C,S8D" {
		t.Errorf("GetSubarrays() = %v", got)
	}
	if cfg.GetVectorScale() != 1.0 {
		t.Errorf("GetVectorScale() = %f, want 1", cfg.GetVectorScale())
	}
	if env := cfg.ToolEnv(); len(env) != 0 {
		t.Errorf("ToolEnv() = %v, want empty", env)
	}
}

func TestGetSubarraysMutationSafe(t *testing.T) {
	cfg := EmptyPipelineConfig()
	got := cfg.GetSubarrays()
	got[0] = "XXX"
	if DefaultSubarrays[0] != "S4A" {
		t.Fatal("GetSubarrays must not expose the package default slice")
	}
}

func TestLoadPipelineConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pol2cat.json")

	testJSON := `{
  "ffclean_box": 5,
  "ffclean_clip": [3, 3],
  "mosaic_method": "SincSinc",
  "subarrays": ["s8a", "s8b"],
  "tool_dirs": {"KAPPA_DIR": "/star/bin/kappa", "CURSA_DIR": "/star/bin/cursa"}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPipelineConfig(configPath)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}

	if cfg.GetFFCleanBox() != 5 {
		t.Errorf("GetFFCleanBox() = %d, want 5", cfg.GetFFCleanBox())
	}
	if got := cfg.GetFFCleanClip(); len(got) != 2 || got[1] != 3 {
		t.Errorf("GetFFCleanClip() = %v, want [3 3]", got)
	}
	if cfg.GetMosaicMethod() != "sincsinc" {
		t.Errorf("GetMosaicMethod() = %q, want sincsinc", cfg.GetMosaicMethod())
	}
	if got := cfg.GetSubarrays(); len(got) != 2 || got[0] != "S8A" {
		t.Errorf("GetSubarrays() = %v, want [S8A S8B]", got)
	}
	env := cfg.ToolEnv()
	if len(env) != 2 || env[0] != "CURSA_DIR=/star/bin/cursa" || env[1] != "KAPPA_DIR=/star/bin/kappa" {
		t.Errorf("ToolEnv() = %v", env)
	}
	// Omitted field keeps its default.
	if cfg.GetVectorScale() != 1.0 {
		t.Errorf("GetVectorScale() = %f, want 1", cfg.GetVectorScale())
	}
}

func TestLoadPipelineConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "missing.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"even box", write("box.json", `{"ffclean_box": 4}`), "positive odd"},
		{"negative clip", write("clip.json", `{"ffclean_clip": [2, -1]}`), "positive"},
		{"unknown method", write("method.json", `{"mosaic_method": "cubic"}`), "mosaic_method"},
		{"duplicate subarray", write("dup.json", `{"subarrays": ["S4A", "s4a"]}`), "duplicate"},
		{"unknown tool dir", write("tool.json", `{"tool_dirs": {"FIGARO_DIR": "/x"}}`), "unknown tool_dirs"},
		{"zero scale", write("scale.json", `{"vector_scale": 0}`), "vector_scale"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadPipelineConfig(tc.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadDefaultsFile(t *testing.T) {
	cfg, err := LoadPipelineConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("failed to load %s: %v", DefaultConfigPath, err)
	}
	if cfg.GetFFCleanBox() != 3 || cfg.GetMosaicMethod() != "bilin" {
		t.Errorf("defaults file disagrees with built-in defaults: %+v", cfg)
	}
	if len(cfg.GetSubarrays()) != len(DefaultSubarrays) {
		t.Errorf("defaults file lists %d subarrays", len(cfg.GetSubarrays()))
	}
}
