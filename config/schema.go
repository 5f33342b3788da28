package config

// schemaJSON is the JSON Schema used to validate a decoded configuration
// document before it is turned into a Config. Keeping it as a Go string
// (rather than a loose file on disk) means a single binary carries its own
// validation rules.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "splat-lod engine configuration",
  "type": "object",
  "additionalProperties": true,
  "properties": {
    "max_paged_splats": {"type": "integer", "minimum": 65536},
    "page_size": {"type": "integer", "enum": [65536]},
    "num_fetchers": {"type": "integer", "minimum": 1, "maximum": 64},
    "max_sh": {"type": "integer", "minimum": 0, "maximum": 3},
    "lod_splat_count": {"type": "integer", "minimum": 0},
    "lod_splat_scale": {"type": "number", "exclusiveMinimum": 0},
    "lod_render_scale": {"type": "number", "exclusiveMinimum": 0},
    "behind_foveate": {"type": "number", "minimum": 0},
    "cone_fov0": {"type": "number", "minimum": 0, "maximum": 360},
    "cone_fov": {"type": "number", "minimum": 0, "maximum": 360},
    "cone_foveate": {"type": "number", "minimum": 0},
    "min_sort_interval_ms": {"type": "integer", "minimum": 0},
    "dispose_timeout_ms": {"type": "integer", "minimum": 0},
    "enable_lod": {"type": "boolean"},
    "enable_drive_lod": {"type": "boolean"}
  }
}`
