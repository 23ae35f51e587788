package usecase

import (
	"fmt"
	"slices"
	"strings"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type ProfileRegistry struct {
	profiles map[string]domain.Profile
}

func NewProfileRegistry(profiles ...domain.Profile) (*ProfileRegistry, error) {
	m := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate profile %q", domain.ErrInvalidProfile, p.Name)
		}
		m[p.Name] = p
	}
	return &ProfileRegistry{profiles: m}, nil
}

func (r *ProfileRegistry) Get(name string) (domain.Profile, error) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: %q", domain.ErrUnknownProfile, name)
	}
	return p, nil
}

func (r *ProfileRegistry) List() []domain.Profile {
	out := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Profile) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
