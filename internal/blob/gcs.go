package blob

import (
	"context"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store on a Google Cloud Storage bucket. Object
// names follow <root>/<subtree>/<ref>; the subtree layout is marked with
// zero-byte ".keep" objects so an empty tenant is still visible.
type GCSStore struct {
	bucket *storage.BucketHandle
}

// NewGCS opens a bucket handle for the given bucket name.
func NewGCS(ctx context.Context, bucketName string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "gcs: new client")
	}
	return &GCSStore{bucket: client.Bucket(bucketName)}, nil
}

func objectName(root string, tree Subtree, ref string) string {
	return path.Join(root, string(tree), ref)
}

func (s *GCSStore) Exists(ctx context.Context, root string, tree Subtree, ref string) (bool, error) {
	_, err := s.bucket.Object(objectName(root, tree, ref)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "gcs: attrs %s", objectName(root, tree, ref))
	}
	return true, nil
}

func (s *GCSStore) Stat(ctx context.Context, root string, tree Subtree, ref string) (*Info, error) {
	attrs, err := s.bucket.Object(objectName(root, tree, ref)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, eris.Wrapf(err, "gcs: object %s not found", objectName(root, tree, ref))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "gcs: attrs %s", objectName(root, tree, ref))
	}
	return &Info{Size: attrs.Size, ContentType: attrs.ContentType}, nil
}

func (s *GCSStore) Fetch(ctx context.Context, root string, tree Subtree, ref string) ([]byte, *Info, error) {
	name := objectName(root, tree, ref)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "gcs: open %s", name)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "gcs: read %s", name)
	}
	return data, &Info{Size: r.Attrs.Size, ContentType: r.Attrs.ContentType}, nil
}

func (s *GCSStore) Copy(ctx context.Context, root string, from, to Subtree, ref string) error {
	src := s.bucket.Object(objectName(root, from, ref))
	dst := s.bucket.Object(objectName(root, to, ref))
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return eris.Wrapf(err, "gcs: copy %s from %s to %s", ref, from, to)
	}
	return nil
}

// Move is a copy followed by a delete of the source; GCS has no native
// rename.
func (s *GCSStore) Move(ctx context.Context, root string, from, to Subtree, ref string) error {
	if err := s.Copy(ctx, root, from, to, ref); err != nil {
		return err
	}
	if err := s.bucket.Object(objectName(root, from, ref)).Delete(ctx); err != nil {
		return eris.Wrapf(err, "gcs: delete source %s/%s", from, ref)
	}
	return nil
}

func (s *GCSStore) Remove(ctx context.Context, root string, tree Subtree, ref string) error {
	err := s.bucket.Object(objectName(root, tree, ref)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "gcs: delete %s", objectName(root, tree, ref))
	}
	return nil
}

func (s *GCSStore) EnsureRoot(ctx context.Context, root string) error {
	for _, tree := range Subtrees() {
		name := path.Join(root, string(tree), ".keep")
		// Conditional write: creating an existing layout is a no-op.
		w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		if _, err := w.Write(nil); err != nil {
			_ = w.Close()
			return eris.Wrapf(err, "gcs: create %s", name)
		}
		if err := w.Close(); err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == 412 {
				continue // Already exists.
			}
			return eris.Wrapf(err, "gcs: finalize %s", name)
		}
	}
	return nil
}

func (s *GCSStore) DropRoot(ctx context.Context, root string) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: root + "/"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "gcs: list %s", root)
		}
		if err := s.bucket.Object(attrs.Name).Delete(ctx); err != nil &&
			!errors.Is(err, storage.ErrObjectNotExist) {
			return eris.Wrapf(err, "gcs: delete %s", attrs.Name)
		}
	}
}
