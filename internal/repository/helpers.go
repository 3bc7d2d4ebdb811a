package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// ErrDuplicate is returned when an insert violates a unique index.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// scopeConditions appends the predicates that pin rows to exactly one scope. Global scope matches
// rows with neither owner set.
func scopeConditions(scope models.VersionScope, args []interface{}) ([]string, []interface{}) {
	scope = scope.Normalize()
	args = append(args, scope.ExtensionID)
	ext := fmt.Sprintf("COALESCE(extension_id, '') = $%d", len(args))
	args = append(args, scope.ProductID)
	prod := fmt.Sprintf("COALESCE(product_id, '') = $%d", len(args))
	return []string{ext, prod}, args
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
