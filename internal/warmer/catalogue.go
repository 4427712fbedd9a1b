package warmer

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/labviz/molcache/internal/strategy"
	"github.com/labviz/molcache/pkg/errors"
)

// CatalogueProvider supplies the candidates offered for warming.
type CatalogueProvider interface {
	Catalogue(ctx context.Context) ([]strategy.Candidate, error)
}

// StaticCatalogue is a fixed candidate list.
type StaticCatalogue []strategy.Candidate

// Catalogue implements CatalogueProvider.
func (s StaticCatalogue) Catalogue(context.Context) ([]strategy.Candidate, error) {
	return append([]strategy.Candidate(nil), s...), nil
}

// FileCatalogue reads candidates from a YAML file on every call, so edits
// take effect on the next warming cycle:
//
//	structures:
//	  - id: 1crn
//	    size_bytes: 48200
//	    popularity_hint: 0.8
//	    family: crambin
type FileCatalogue struct {
	Path string
}

type catalogueFile struct {
	Structures []strategy.Candidate `yaml:"structures"`
}

// Catalogue implements CatalogueProvider. Entries without an id are an
// error; a repeated id keeps its first entry.
func (f FileCatalogue) Catalogue(ctx context.Context) ([]strategy.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to read catalogue", err).
			WithComponent("warmer").WithDetail("path", f.Path)
	}

	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse catalogue", err).
			WithComponent("warmer").WithDetail("path", f.Path)
	}

	seen := make(map[string]bool, len(file.Structures))
	out := make([]strategy.Candidate, 0, len(file.Structures))
	for i, c := range file.Structures {
		if c.ID == "" {
			return nil, errors.NewError(errors.ErrCodeConfigLoad, fmt.Sprintf("catalogue entry %d has no id", i)).
				WithComponent("warmer").WithDetail("path", f.Path)
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}
