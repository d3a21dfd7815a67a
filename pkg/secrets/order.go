package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lamassuiot/pkictl/pkg/manifest"
)

// Order sorts intermediate CAs so that every CA comes after its issuer when
// the issuer is part of the same batch. Among the CAs whose issuer is already
// placed or outside the batch, the one listed first in the input goes next,
// so an input that is already ordered is returned unchanged. Self-issued CAs,
// issuer cycles and duplicate names are reported as validation errors.
func Order(cas []*IntermediateCA) ([]*IntermediateCA, error) {
	index := make(map[string]int, len(cas))
	for i, ca := range cas {
		if _, dup := index[ca.Name()]; dup {
			return nil, &manifest.ValidationError{
				Kind: manifest.KindIntermediateCA,
				Name: ca.Name(),
				Err:  &manifest.FieldError{Field: "metadata.name", Constraint: "duplicate intermediate CA name"},
			}
		}
		index[ca.Name()] = i
	}

	children := make(map[int][]int, len(cas))
	var ready []int
	for i, ca := range cas {
		if ca.Issuer() == ca.Name() {
			return nil, &manifest.ValidationError{
				Kind: manifest.KindIntermediateCA,
				Name: ca.Name(),
				Err:  &manifest.FieldError{Field: "metadata.issuer", Constraint: "a CA cannot be its own issuer"},
			}
		}
		parent, ok := index[ca.Issuer()]
		if !ok {
			ready = append(ready, i)
			continue
		}
		children[parent] = append(children[parent], i)
	}

	sorted := make([]*IntermediateCA, 0, len(cas))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		sorted = append(sorted, cas[i])
		for _, child := range children[i] {
			at := sort.SearchInts(ready, child)
			ready = append(ready, 0)
			copy(ready[at+1:], ready[at:])
			ready[at] = child
		}
	}

	if len(sorted) != len(cas) {
		placed := make(map[string]bool, len(sorted))
		for _, ca := range sorted {
			placed[ca.Name()] = true
		}
		var cycle []string
		for _, ca := range cas {
			if !placed[ca.Name()] {
				cycle = append(cycle, ca.Name())
			}
		}
		sort.Strings(cycle)
		return nil, &manifest.ValidationError{
			Kind: manifest.KindIntermediateCA,
			Name: cycle[0],
			Err: &manifest.FieldError{
				Field:      "metadata.issuer",
				Constraint: fmt.Sprintf("issuer cycle involving %s", strings.Join(cycle, ", ")),
			},
		}
	}
	return sorted, nil
}
