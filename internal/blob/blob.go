// Package blob abstracts the hierarchical document store. Each tenant
// owns a root with three subtrees: staging holds ingested documents
// awaiting terminal placement, inflow and outflow hold categorized ones.
package blob

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/resilience"
)

// Subtree names within a tenant's blob root.
type Subtree string

const (
	SubtreeStaging Subtree = "staging"
	SubtreeInflow  Subtree = "inflow"
	SubtreeOutflow Subtree = "outflow"
)

// Subtrees lists all subtrees in creation order.
func Subtrees() []Subtree {
	return []Subtree{SubtreeStaging, SubtreeInflow, SubtreeOutflow}
}

// Info describes a stored blob.
type Info struct {
	Size        int64
	ContentType string
}

// Store is the blob storage interface. All operations address a blob by
// tenant root, subtree, and opaque reference.
type Store interface {
	Exists(ctx context.Context, root string, tree Subtree, ref string) (bool, error)
	Stat(ctx context.Context, root string, tree Subtree, ref string) (*Info, error)
	Fetch(ctx context.Context, root string, tree Subtree, ref string) ([]byte, *Info, error)
	Copy(ctx context.Context, root string, from, to Subtree, ref string) error
	Move(ctx context.Context, root string, from, to Subtree, ref string) error
	Remove(ctx context.Context, root string, tree Subtree, ref string) error

	// EnsureRoot creates the tenant's subtree layout; DropRoot removes it.
	// DropRoot exists for provisioning compensation only.
	EnsureRoot(ctx context.Context, root string) error
	DropRoot(ctx context.Context, root string) error
}

// RemoveFromCategories deletes the blob from both category subtrees if
// present. The staging copy is never touched.
func RemoveFromCategories(ctx context.Context, s Store, root, ref string) error {
	for _, tree := range []Subtree{SubtreeInflow, SubtreeOutflow} {
		ok, err := s.Exists(ctx, root, tree, ref)
		if err != nil {
			return eris.Wrapf(err, "blob: check %s/%s", tree, ref)
		}
		if !ok {
			continue
		}
		if err := s.Remove(ctx, root, tree, ref); err != nil {
			return eris.Wrapf(err, "blob: remove %s/%s", tree, ref)
		}
	}
	return nil
}

// RestoreToStaging puts the blob back under staging if absent, copying
// from whichever category subtree still holds it. Missing everywhere is
// FILE_NOT_FOUND.
func RestoreToStaging(ctx context.Context, s Store, root, ref string) error {
	ok, err := s.Exists(ctx, root, SubtreeStaging, ref)
	if err != nil {
		return eris.Wrapf(err, "blob: check staging/%s", ref)
	}
	if ok {
		return nil
	}

	for _, tree := range []Subtree{SubtreeInflow, SubtreeOutflow} {
		ok, err := s.Exists(ctx, root, tree, ref)
		if err != nil {
			return eris.Wrapf(err, "blob: check %s/%s", tree, ref)
		}
		if ok {
			if err := s.Copy(ctx, root, tree, SubtreeStaging, ref); err != nil {
				return eris.Wrapf(err, "blob: restore %s from %s", ref, tree)
			}
			return nil
		}
	}

	return resilience.NewCoded(resilience.CodeFileNotFound,
		eris.Errorf("blob %s not found in any subtree of %s", ref, root))
}

// MoveToCategory moves the blob from staging into a category subtree.
// Already-moved blobs are tolerated: if staging no longer holds the blob
// but the target does, the move is a no-op.
func MoveToCategory(ctx context.Context, s Store, root, ref string, target Subtree) error {
	inStaging, err := s.Exists(ctx, root, SubtreeStaging, ref)
	if err != nil {
		return eris.Wrapf(err, "blob: check staging/%s", ref)
	}
	if !inStaging {
		inTarget, err := s.Exists(ctx, root, target, ref)
		if err != nil {
			return eris.Wrapf(err, "blob: check %s/%s", target, ref)
		}
		if inTarget {
			return nil
		}
		return resilience.NewCoded(resilience.CodeFileNotFound,
			eris.Errorf("blob %s missing from staging and %s", ref, target))
	}
	if err := s.Move(ctx, root, SubtreeStaging, target, ref); err != nil {
		return eris.Wrapf(err, "blob: move %s to %s", ref, target)
	}
	return nil
}
