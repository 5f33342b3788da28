// Package config defines the engine's single construction-time configuration
// object plus the functional-option and YAML/JSON-Schema loading
// path around it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultPageSize is the fixed number of splats per GPU page.
const DefaultPageSize = 65536

// Config holds every option recognized at engine construction.
type Config struct {
	MaxPagedSplats uint32
	PageSize       uint32
	NumFetchers    int
	MaxSH          int

	LodSplatCount uint32
	LodSplatScale float32
	LodRenderScale float32

	BehindFoveate float32
	ConeFov0      float32
	ConeFov       float32
	ConeFoveate   float32

	MinSortInterval  time.Duration
	DisposeTimeout   time.Duration

	EnableLod      bool
	EnableDriveLod bool
}

// Option configures a Config during construction.
type Option func(*Config)

// WithMaxPagedSplats sets the GPU splat pool size. New rejects a value that
// is not a multiple of PageSize.
func WithMaxPagedSplats(splats uint32) Option {
	return func(c *Config) { c.MaxPagedSplats = splats }
}

// WithPageSize overrides the splats-per-page page size (default 65536).
func WithPageSize(size uint32) Option {
	return func(c *Config) { c.PageSize = size }
}

// WithNumFetchers sets the bounded fetch/decode worker pool size.
func WithNumFetchers(n int) Option {
	return func(c *Config) { c.NumFetchers = n }
}

// WithMaxSH sets the maximum spherical-harmonic level retained (0..3).
func WithMaxSH(level int) Option {
	return func(c *Config) { c.MaxSH = level }
}

// WithLodSplatCount sets an explicit global splat-budget target, overriding
// the device-class default.
func WithLodSplatCount(count uint32) Option {
	return func(c *Config) { c.LodSplatCount = count }
}

// WithLodSplatScale sets a multiplier applied on top of the target count.
func WithLodSplatScale(scale float32) Option {
	return func(c *Config) { c.LodSplatScale = scale }
}

// WithLodRenderScale sets a multiplier on pixel_scale, raising or lowering
// the acceptable minimum splat size on screen.
func WithLodRenderScale(scale float32) Option {
	return func(c *Config) { c.LodRenderScale = scale }
}

// WithFoveation sets the global foveation shape parameters.
func WithFoveation(behindFoveate, coneFov0, coneFov, coneFoveate float32) Option {
	return func(c *Config) {
		c.BehindFoveate = behindFoveate
		c.ConeFov0 = coneFov0
		c.ConeFov = coneFov
		c.ConeFoveate = coneFoveate
	}
}

// WithMinSortInterval sets the lower bound between sort kicks.
func WithMinSortInterval(d time.Duration) Option {
	return func(c *Config) { c.MinSortInterval = d }
}

// WithDisposeTimeout sets the idle-tree eviction delay (default 3s).
func WithDisposeTimeout(d time.Duration) Option {
	return func(c *Config) { c.DisposeTimeout = d }
}

// WithEnableLod toggles the master LoD switch.
func WithEnableLod(enabled bool) Option {
	return func(c *Config) { c.EnableLod = enabled }
}

// WithEnableDriveLod toggles whether this driver updates trees/cache or
// merely consumes another driver's results.
func WithEnableDriveLod(enabled bool) Option {
	return func(c *Config) { c.EnableDriveLod = enabled }
}

// New builds a Config from defaults plus the given options, then validates
// it. Construction-time errors surface to the caller as plain
// (fmt.Errorf) errors.
func New(options ...Option) (Config, error) {
	c := Config{
		MaxPagedSplats: 2_500_000 / DefaultPageSize * DefaultPageSize,
		PageSize:       DefaultPageSize,
		NumFetchers:    3,
		MaxSH:          3,
		LodSplatScale:  1,
		LodRenderScale: 1,
		BehindFoveate:  1,
		ConeFov0:       0,
		ConeFov:        0,
		ConeFoveate:    1,
		DisposeTimeout: 3 * time.Second,
		EnableLod:      true,
		EnableDriveLod: true,
	}
	for _, opt := range options {
		opt(&c)
	}
	if err := c.validateSelf(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// validateSelf checks invariants that only make sense against the fully
// resolved struct (as opposed to the raw document schema, see
// validateDocument).
func (c Config) validateSelf() error {
	if c.PageSize == 0 {
		return fmt.Errorf("config: page_size must be non-zero")
	}
	if c.MaxPagedSplats%c.PageSize != 0 {
		return fmt.Errorf("config: max_paged_splats (%d) must be a multiple of page_size (%d)", c.MaxPagedSplats, c.PageSize)
	}
	if c.NumFetchers < 1 {
		return fmt.Errorf("config: num_fetchers must be >= 1")
	}
	if c.MaxSH < 0 || c.MaxSH > 3 {
		return fmt.Errorf("config: max_sh must be in [0,3]")
	}
	return nil
}

// PageCount returns the number of GPU pages the pool holds.
func (c Config) PageCount() uint32 {
	return c.MaxPagedSplats / c.PageSize
}

// Load reads a YAML configuration document from path, validates it against
// the engine's JSON Schema, and returns the resulting Config built on top of
// New's defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := validateDocument(doc); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	var typed struct {
		MaxPagedSplats uint32  `yaml:"max_paged_splats"`
		PageSize       uint32  `yaml:"page_size"`
		NumFetchers    int     `yaml:"num_fetchers"`
		MaxSH          *int    `yaml:"max_sh"`
		LodSplatCount  uint32  `yaml:"lod_splat_count"`
		LodSplatScale  float32 `yaml:"lod_splat_scale"`
		LodRenderScale float32 `yaml:"lod_render_scale"`
		BehindFoveate  *float32 `yaml:"behind_foveate"`
		ConeFov0       float32 `yaml:"cone_fov0"`
		ConeFov        float32 `yaml:"cone_fov"`
		ConeFoveate    *float32 `yaml:"cone_foveate"`
		MinSortIntervalMs int  `yaml:"min_sort_interval_ms"`
		DisposeTimeoutMs  int  `yaml:"dispose_timeout_ms"`
		EnableLod      *bool   `yaml:"enable_lod"`
		EnableDriveLod *bool   `yaml:"enable_drive_lod"`
	}
	if err := yaml.Unmarshal(raw, &typed); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	opts := []Option{}
	if typed.MaxPagedSplats != 0 {
		opts = append(opts, WithMaxPagedSplats(typed.MaxPagedSplats))
	}
	if typed.PageSize != 0 {
		opts = append(opts, WithPageSize(typed.PageSize))
	}
	if typed.NumFetchers != 0 {
		opts = append(opts, WithNumFetchers(typed.NumFetchers))
	}
	if typed.MaxSH != nil {
		opts = append(opts, WithMaxSH(*typed.MaxSH))
	}
	if typed.LodSplatCount != 0 {
		opts = append(opts, WithLodSplatCount(typed.LodSplatCount))
	}
	if typed.LodSplatScale != 0 {
		opts = append(opts, WithLodSplatScale(typed.LodSplatScale))
	}
	if typed.LodRenderScale != 0 {
		opts = append(opts, WithLodRenderScale(typed.LodRenderScale))
	}
	opts = append(opts, func(c *Config) {
		c.ConeFov0, c.ConeFov = typed.ConeFov0, typed.ConeFov
		if typed.BehindFoveate != nil {
			c.BehindFoveate = *typed.BehindFoveate
		}
		if typed.ConeFoveate != nil {
			c.ConeFoveate = *typed.ConeFoveate
		}
	})
	if typed.MinSortIntervalMs != 0 {
		opts = append(opts, WithMinSortInterval(time.Duration(typed.MinSortIntervalMs)*time.Millisecond))
	}
	if typed.DisposeTimeoutMs != 0 {
		opts = append(opts, WithDisposeTimeout(time.Duration(typed.DisposeTimeoutMs)*time.Millisecond))
	}
	if typed.EnableLod != nil {
		opts = append(opts, WithEnableLod(*typed.EnableLod))
	}
	if typed.EnableDriveLod != nil {
		opts = append(opts, WithEnableDriveLod(*typed.EnableDriveLod))
	}

	return New(opts...)
}

// validateDocument checks a raw decoded configuration document against the
// engine's embedded JSON Schema.
func validateDocument(doc map[string]any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	// jsonschema validates against JSON-shaped values; normalize map[string]any
	// (as produced by yaml.v3) into that shape.
	normalized := normalizeForSchema(doc)
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// normalizeForSchema converts yaml.v3's map[string]any documents (which can
// nest map[string]any) into the map[string]interface{} shape jsonschema/v5
// expects; yaml.v3 already produces that shape for object nodes decoded into
// `any`, so this is effectively a type-safe pass-through with map key
// coercion for defensiveness.
func normalizeForSchema(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
