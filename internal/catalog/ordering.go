package catalog

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/amillerrr/lms-catalog/pkg/models"
)

// ordered is a sibling in an ordering scope.
type ordered interface {
	SortKey() (order int, createdAt string)
}

// nextOrder returns the position appended after siblings: one past the
// highest order, or 0 for an empty scope.
func nextOrder[T any, P interface {
	*T
	ordered
}](siblings []T) int {
	if len(siblings) == 0 {
		return 0
	}
	highest := 0
	for i := range siblings {
		order, _ := P(&siblings[i]).SortKey()
		if i == 0 || order > highest {
			highest = order
		}
	}
	return highest + 1
}

// sortByOrder sorts siblings by order ascending, newest first on ties.
func sortByOrder[T any, P interface {
	*T
	ordered
}](siblings []T) {
	slices.SortStableFunc(siblings, func(a, b T) int {
		ao, ac := P(&a).SortKey()
		bo, bc := P(&b).SortKey()
		if c := cmp.Compare(ao, bo); c != 0 {
			return c
		}
		return cmp.Compare(bc, ac)
	})
}

// validateIDs checks a reorder request.
func validateIDs(field string, ids []string) error {
	if ids == nil {
		return models.NewValidationError(field, "must be a list of ids")
	}
	for _, id := range ids {
		if id == "" {
			return models.NewValidationError(field, "ids must not be empty")
		}
	}
	return nil
}

// applyOrder assigns order = index to each id in turn. Ids left out keep
// their order, and ids that no longer exist are skipped. Any other failure
// stops the walk, leaving earlier ids reordered.
func (s *Service) applyOrder(ctx context.Context, kind string, ids []string, set func(ctx context.Context, id string, order int) error) error {
	var skipped []string
	for i, id := range ids {
		err := set(ctx, id, i)
		switch {
		case errors.Is(err, models.ErrNotFound):
			skipped = append(skipped, id)
		case err != nil:
			return storeErr("set order", err)
		}
	}
	if len(skipped) > 0 {
		s.log.WarnContext(ctx, "Skipped unknown ids while reordering", "kind", kind, "ids", skipped)
	}
	return nil
}
