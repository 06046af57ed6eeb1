package products

import (
	"sort"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// Aggregate normalizes every candidate of every batch, drops rejections,
// keeps the first occurrence of each normalized name and sorts the result.
// The returned list is never nil.
func Aggregate(n *Normalizer, batches [][]string) pipeline.ProductList {
	seen := make(map[string]struct{})
	list := make(pipeline.ProductList, 0)

	for _, batch := range batches {
		for _, raw := range batch {
			name, ok := n.Normalize(raw)
			if !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			list = append(list, pipeline.Product{Name: name})
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}
