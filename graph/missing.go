package graph

import (
	"context"
	"slices"

	"github.com/poiesic/transitstore/storage"
)

// MissingClassUpdate copies from source the types that target references
// but holds neither in a sub-store of its own nor embedded in another type.
// It returns the copied types. Indirect references are not followed.
func MissingClassUpdate(ctx context.Context, source, target storage.Store) ([]string, error) {
	if err := target.BlockUntilDone(); err != nil {
		return nil, err
	}
	tables, err := target.Tables(ctx)
	if err != nil {
		return nil, err
	}
	referencing, err := target.Referencing(ctx)
	if err != nil {
		return nil, err
	}
	embedded, err := target.Embedded(ctx)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range referencing {
		if slices.Contains(tables, name) || slices.Contains(embedded, name) {
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return nil, nil
	}
	target.Logger().Info("copying missing classes", "types", missing)
	if err := source.CopyTables(ctx, target, missing, true, true); err != nil {
		return nil, err
	}
	return missing, nil
}
