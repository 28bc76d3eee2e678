package encode

import (
	"os/exec"
	"sync"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
)

// External tool names the encoders delegate to.
const (
	ToolJpegoptim = "jpegoptim"
	ToolOxipng    = "oxipng"
	ToolCwebp     = "cwebp"
	ToolFfmpeg    = "ffmpeg"
	ToolExiftool  = "exiftool"
)

// ToolResolver locates external binaries. It is an explicit, constructed
// dependency passed into the encoders rather than process-wide state, so
// tests can substitute doubles via the override table.
type ToolResolver struct {
	mu        sync.Mutex
	overrides map[string]string
	cache     map[string]string
}

// NewToolResolver creates a resolver that consults the override table first
// and falls back to the system PATH.
func NewToolResolver(overrides map[string]string) *ToolResolver {
	return &ToolResolver{
		overrides: overrides,
		cache:     make(map[string]string),
	}
}

// Resolve returns the absolute path of a tool, or a MissingDependency error.
func (r *ToolResolver) Resolve(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path, ok := r.overrides[name]; ok {
		return path, nil
	}
	if path, ok := r.cache[name]; ok {
		return path, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", common.Ef(common.KindMissingDependency, "", "required external tool not found: %s", name)
	}
	r.cache[name] = path
	return path, nil
}

// Available reports whether a tool can be resolved.
func (r *ToolResolver) Available(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// CheckDependencies verifies once at startup that every tool this run will
// need is present. A missing tool is fatal for the whole run.
func (r *ToolResolver) CheckDependencies(cfg *config.RunConfig) error {
	required := []string{ToolJpegoptim, ToolOxipng, ToolFfmpeg, ToolExiftool}
	if cfg.ConvertToWebP {
		required = append(required, ToolCwebp)
	}
	for _, tool := range required {
		if _, err := r.Resolve(tool); err != nil {
			return err
		}
	}
	return nil
}
