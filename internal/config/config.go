// Package config loads and validates the JSON configuration document
// described in spec §4.9 and §6: regions, tile sources, output directory,
// and download limits. It follows the teacher's load-with-defaults idiom
// (internal/config/config.go in MartinMeyer1-bike-map) generalized from a
// few flat env vars to a nested, file-backed document.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/spf13/cast"
)

// ConfigurationError reports a malformed or invalid configuration document.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// RegionCfg describes one named region: its bbox and default zoom range.
type RegionCfg struct {
	BBox        [4]float64 `json:"bbox"`
	MinZoom     int        `json:"min_zoom"`
	MaxZoom     int        `json:"max_zoom"`
	Description string     `json:"description,omitempty"`
}

// HTTPSourceCfg describes a remote tile server entry from the `servers` list.
type HTTPSourceCfg struct {
	Name     string            `json:"name"`
	TileType string            `json:"tile_type"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// LocalSourceCfg describes a local SQLite tile-archive entry from the
// `servers` list.
type LocalSourceCfg struct {
	Name        string     `json:"name"`
	TileType    string     `json:"tile_type"`
	Path        string     `json:"path"`
	SourceType  string     `json:"source_type"`
	Bounds      [4]float64 `json:"bounds,omitempty"`
	MinZoom     int        `json:"min_zoom,omitempty"`
	MaxZoom     int        `json:"max_zoom,omitempty"`
	Description string     `json:"description,omitempty"`
}

// DownloadLimits groups the numeric knobs that bound the download pipeline.
type DownloadLimits struct {
	MaxWorkersPerServer int `json:"max_workers_per_server"`
	RetryAttempts       int `json:"retry_attempts"`
	TimeoutSeconds      int `json:"timeout"`
}

// LoggingCfg is an optional, passthrough logging configuration block.
type LoggingCfg struct {
	Level string `json:"level,omitempty"`
}

// Config is the in-memory model of the configuration document. Unknown
// top-level keys are preserved (not dropped) in raw form so that
// `/api/config` and `/src/config.json` can echo the original document
// byte-for-byte up to key ordering, per the round-trip property in §8.
type Config struct {
	Regions      map[string]RegionCfg
	HTTPSources  []HTTPSourceCfg
	LocalSources []LocalSourceCfg
	OutputDir    string
	Limits       DownloadLimits
	Logging      *LoggingCfg

	raw json.RawMessage
}

type wireConfig struct {
	Regions             map[string]RegionCfg `json:"regions"`
	Servers             []json.RawMessage    `json:"servers"`
	OutputDir           string               `json:"output_dir"`
	MaxWorkersPerServer json.Number          `json:"max_workers_per_server"`
	RetryAttempts       json.Number          `json:"retry_attempts"`
	Timeout             json.Number          `json:"timeout"`
	Logging             *LoggingCfg          `json:"logging,omitempty"`
}

type serverStub struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	TileType string `json:"tile_type"`
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	return Parse(data)
}

// Parse decodes a configuration document already read into memory. It is
// split out from Load so tests and the /api/config echo endpoint can both
// exercise it without touching the filesystem.
func Parse(data []byte) (*Config, error) {
	var wc wireConfig
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, &ConfigurationError{Reason: "malformed JSON: " + err.Error()}
	}

	if wc.Regions == nil {
		return nil, &ConfigurationError{Reason: "missing required key: regions"}
	}
	if wc.OutputDir == "" {
		return nil, &ConfigurationError{Reason: "missing required key: output_dir"}
	}

	cfg := &Config{
		Regions:   wc.Regions,
		OutputDir: wc.OutputDir,
		Limits: DownloadLimits{
			MaxWorkersPerServer: cast.ToInt(wc.MaxWorkersPerServer.String()),
			RetryAttempts:       cast.ToInt(wc.RetryAttempts.String()),
			TimeoutSeconds:      cast.ToInt(wc.Timeout.String()),
		},
		Logging: wc.Logging,
		raw:     json.RawMessage(data),
	}
	if cfg.Limits.MaxWorkersPerServer <= 0 {
		return nil, &ConfigurationError{Reason: "max_workers_per_server must be positive"}
	}
	if cfg.Limits.RetryAttempts < 0 {
		return nil, &ConfigurationError{Reason: "retry_attempts must be non-negative"}
	}
	if cfg.Limits.TimeoutSeconds <= 0 {
		return nil, &ConfigurationError{Reason: "timeout must be positive"}
	}

	for _, raw := range wc.Servers {
		var stub serverStub
		if err := json.Unmarshal(raw, &stub); err != nil {
			return nil, &ConfigurationError{Reason: "malformed servers entry: " + err.Error()}
		}
		switch stub.Type {
		case "http":
			var hs HTTPSourceCfg
			if err := json.Unmarshal(raw, &hs); err != nil {
				return nil, &ConfigurationError{Reason: "malformed http server entry: " + err.Error()}
			}
			if !strings.Contains(hs.URL, "{z}") || !strings.Contains(hs.URL, "{x}") || !strings.Contains(hs.URL, "{y}") {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("server %q: url template missing {z}/{x}/{y}", hs.Name)}
			}
			if !govalidator.IsURL(templatePlaceholder(hs.URL)) {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("server %q: url is not a valid URL template", hs.Name)}
			}
			cfg.HTTPSources = append(cfg.HTTPSources, hs)
		case "local":
			var ls LocalSourceCfg
			if err := json.Unmarshal(raw, &ls); err != nil {
				return nil, &ConfigurationError{Reason: "malformed local server entry: " + err.Error()}
			}
			cfg.LocalSources = append(cfg.LocalSources, ls)
		default:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("server %q: unknown type %q", stub.Name, stub.Type)}
		}
	}

	for name, r := range cfg.Regions {
		b := r.BBox
		if !govalidator.InRange(b[0], -180.0, 180.0) || !govalidator.InRange(b[2], -180.0, 180.0) ||
			!govalidator.InRange(b[1], -85.0511, 85.0511) || !govalidator.InRange(b[3], -85.0511, 85.0511) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("region %q: bbox out of range", name)}
		}
		if b[0] > b[2] || b[1] > b[3] {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("region %q: bbox min > max", name)}
		}
	}

	return cfg, nil
}

// templatePlaceholder substitutes numeric placeholders for {z}/{x}/{y} so
// the result is a syntactically valid URL that govalidator can check.
func templatePlaceholder(tmpl string) string {
	r := strings.NewReplacer("{z}", "0", "{x}", "0", "{y}", "0")
	return r.Replace(tmpl)
}

// Raw returns the original document bytes, used by the /api/config and
// /src/config.json endpoints to echo configuration verbatim.
func (c *Config) Raw() json.RawMessage {
	return c.raw
}
