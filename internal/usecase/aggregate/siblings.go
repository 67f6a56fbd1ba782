// Package aggregate computes cross-sibling option summaries for variants of
// one product.
package aggregate

import (
	"slices"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Siblings returns one aggregate per variant, aligned with vs. A variant is
// identified by its position, so two records sharing an id still count as
// siblings of each other.
func Siblings(vs []domain.VariantRecord) []domain.Siblings {
	out := make([]domain.Siblings, len(vs))

	available := 0
	for _, v := range vs {
		if v.Available {
			available++
		}
	}

	for i := range vs {
		all := make(map[string]map[string]struct{})
		avail := make(map[string]map[string]struct{})
		for j, w := range vs {
			if j == i {
				continue
			}
			for name, value := range optionMap(w.Options) {
				add(all, name, value)
				if w.Available {
					add(avail, name, value)
				}
			}
		}

		otherAvailable := available
		if vs[i].Available {
			otherAvailable--
		}
		out[i] = domain.Siblings{
			NumOtherVariants:          len(vs) - 1,
			NumOtherAvailableVariants: otherAvailable,
			OtherOptions:              sorted(all),
			OtherAvailableOptions:     sorted(avail),
		}
	}
	return out
}

// optionMap keeps the last value per option name and drops empty pairs.
func optionMap(opts []domain.OptionValue) map[string]string {
	m := make(map[string]string, len(opts))
	for _, o := range opts {
		if o.Name == "" || o.Value == "" {
			continue
		}
		m[o.Name] = o.Value
	}
	return m
}

func add(sets map[string]map[string]struct{}, name, value string) {
	s, ok := sets[name]
	if !ok {
		s = make(map[string]struct{})
		sets[name] = s
	}
	s[value] = struct{}{}
}

func sorted(sets map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(sets))
	for name, set := range sets {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		slices.Sort(vals)
		out[name] = vals
	}
	return out
}
