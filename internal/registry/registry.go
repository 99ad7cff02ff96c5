// Package registry loads and persists the tenant registry, a YAML file
// listing every tenant and its blob root. The registry is the source of
// truth for which tenants exist; batch operations iterate it.
package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docflow-cli/internal/model"
)

// registryFile is the on-disk shape of tenants.yaml.
type registryFile struct {
	Tenants []model.Tenant `yaml:"tenants"`
}

// Registry is an in-memory view of the tenant registry file.
type Registry struct {
	path    string
	tenants []model.Tenant
	byID    map[string]*model.Tenant
}

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Load reads the registry file at path. A missing file yields an empty
// registry, since provisioning the first tenant creates it. Malformed
// entries are skipped with a warning rather than failing the load.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, byID: map[string]*model.Tenant{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}

	for _, t := range file.Tenants {
		if err := validate(t); err != nil {
			zap.L().Warn("registry: skipping malformed tenant entry",
				zap.String("tenant", t.ID),
				zap.Error(err),
			)
			continue
		}
		if _, dup := r.byID[t.ID]; dup {
			zap.L().Warn("registry: skipping duplicate tenant entry",
				zap.String("tenant", t.ID),
			)
			continue
		}
		r.tenants = append(r.tenants, t)
		r.byID[t.ID] = &r.tenants[len(r.tenants)-1]
	}
	return r, nil
}

func validate(t model.Tenant) error {
	if t.ID == "" {
		return eris.New("registry: tenant id is empty")
	}
	if !tenantIDPattern.MatchString(t.ID) {
		return eris.Errorf("registry: tenant id %q is not lowercase alphanumeric", t.ID)
	}
	if t.BlobRoot == "" {
		return eris.Errorf("registry: tenant %s has no blob root", t.ID)
	}
	return nil
}

// Get returns the tenant with the given id.
func (r *Registry) Get(id string) (model.Tenant, error) {
	t, ok := r.byID[id]
	if !ok {
		return model.Tenant{}, eris.Errorf("registry: unknown tenant %q", id)
	}
	return *t, nil
}

// Active returns the tenants batch operations should visit, in file order.
func (r *Registry) Active() []model.Tenant {
	var out []model.Tenant
	for _, t := range r.tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// All returns every registered tenant, active or not.
func (r *Registry) All() []model.Tenant {
	out := make([]model.Tenant, len(r.tenants))
	copy(out, r.tenants)
	return out
}

// Add registers a new tenant and persists the file. Used by provisioning.
func (r *Registry) Add(t model.Tenant) error {
	if err := validate(t); err != nil {
		return err
	}
	if _, dup := r.byID[t.ID]; dup {
		return eris.Errorf("registry: tenant %s already registered", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	r.tenants = append(r.tenants, t)
	r.byID[t.ID] = &r.tenants[len(r.tenants)-1]
	return r.save()
}

// Remove deregisters a tenant and persists the file. Established tenants
// are deactivated instead of removed.
func (r *Registry) Remove(id string) error {
	idx := -1
	for i := range r.tenants {
		if r.tenants[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return eris.Errorf("registry: unknown tenant %q", id)
	}

	r.tenants = append(r.tenants[:idx], r.tenants[idx+1:]...)
	delete(r.byID, id)
	// Reindex: the slice backing array shifted.
	for i := range r.tenants {
		r.byID[r.tenants[i].ID] = &r.tenants[i]
	}
	return r.save()
}

// Deactivate marks a tenant inactive and persists the file.
func (r *Registry) Deactivate(id string) error {
	t, ok := r.byID[id]
	if !ok {
		return eris.Errorf("registry: unknown tenant %q", id)
	}
	t.Active = false
	return r.save()
}

func (r *Registry) save() error {
	data, err := yaml.Marshal(registryFile{Tenants: r.tenants})
	if err != nil {
		return eris.Wrap(err, "registry: marshal")
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "registry: mkdir %s", dir)
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return eris.Wrapf(err, "registry: write %s", r.path)
	}
	return nil
}
