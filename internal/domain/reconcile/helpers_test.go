package reconcile

import (
	"sort"

	"github.com/aamira/courier-tracker/internal/shared/types"
)

func sortedIDs(rows []types.Package) []string {
	out := rowIDs(rows)
	sort.Strings(out)
	return out
}
