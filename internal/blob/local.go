package blob

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// LocalStore implements Store on the local filesystem, for development
// and tests. Layout mirrors GCS: <base>/<root>/<subtree>/<ref>.
type LocalStore struct {
	base string
}

// NewLocal creates a LocalStore rooted at base.
func NewLocal(base string) *LocalStore {
	return &LocalStore{base: base}
}

func (s *LocalStore) path(root string, tree Subtree, ref string) string {
	return filepath.Join(s.base, root, string(tree), ref)
}

func (s *LocalStore) Exists(_ context.Context, root string, tree Subtree, ref string) (bool, error) {
	_, err := os.Stat(s.path(root, tree, ref))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "local: stat %s", s.path(root, tree, ref))
	}
	return true, nil
}

func (s *LocalStore) Stat(_ context.Context, root string, tree Subtree, ref string) (*Info, error) {
	fi, err := os.Stat(s.path(root, tree, ref))
	if err != nil {
		return nil, eris.Wrapf(err, "local: stat %s", s.path(root, tree, ref))
	}
	return &Info{
		Size:        fi.Size(),
		ContentType: contentTypeFor(ref),
	}, nil
}

func (s *LocalStore) Fetch(_ context.Context, root string, tree Subtree, ref string) ([]byte, *Info, error) {
	p := s.path(root, tree, ref)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "local: read %s", p)
	}
	return data, &Info{Size: int64(len(data)), ContentType: contentTypeFor(ref)}, nil
}

func (s *LocalStore) Copy(_ context.Context, root string, from, to Subtree, ref string) error {
	data, err := os.ReadFile(s.path(root, from, ref))
	if err != nil {
		return eris.Wrapf(err, "local: read %s", s.path(root, from, ref))
	}
	dst := s.path(root, to, ref)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eris.Wrapf(err, "local: mkdir %s", filepath.Dir(dst))
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return eris.Wrapf(err, "local: write %s", dst)
	}
	return nil
}

func (s *LocalStore) Move(ctx context.Context, root string, from, to Subtree, ref string) error {
	dst := s.path(root, to, ref)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eris.Wrapf(err, "local: mkdir %s", filepath.Dir(dst))
	}
	if err := os.Rename(s.path(root, from, ref), dst); err != nil {
		return eris.Wrapf(err, "local: rename %s", ref)
	}
	return nil
}

func (s *LocalStore) Remove(_ context.Context, root string, tree Subtree, ref string) error {
	err := os.Remove(s.path(root, tree, ref))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "local: remove %s", s.path(root, tree, ref))
	}
	return nil
}

func (s *LocalStore) EnsureRoot(_ context.Context, root string) error {
	for _, tree := range Subtrees() {
		if err := os.MkdirAll(filepath.Join(s.base, root, string(tree)), 0o755); err != nil {
			return eris.Wrapf(err, "local: mkdir %s/%s", root, tree)
		}
	}
	return nil
}

func (s *LocalStore) DropRoot(_ context.Context, root string) error {
	if err := os.RemoveAll(filepath.Join(s.base, root)); err != nil {
		return eris.Wrapf(err, "local: remove root %s", root)
	}
	return nil
}

// Put writes a blob directly into a subtree. Used by ingestion and tests.
func (s *LocalStore) Put(_ context.Context, root string, tree Subtree, ref string, data []byte) error {
	p := s.path(root, tree, ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "local: mkdir %s", filepath.Dir(p))
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return eris.Wrapf(err, "local: write %s", p)
	}
	return nil
}

func contentTypeFor(ref string) string {
	if ct := mime.TypeByExtension(filepath.Ext(ref)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
