package secrets

import (
	"fmt"
	"sort"
	"strings"
)

// Provider holds credentials resolved once at startup. Adapters and
// notifiers ask it by name instead of reading files on every call.
// It is read-only after construction and safe for concurrent use.
type Provider struct {
	secrets map[string]string
	errs    map[string]error
}

// NewProvider resolves every source. Sources that fail to load are
// remembered with their error so the caller can disable the collaborator.
func NewProvider(sources map[string]Source) *Provider {
	p := &Provider{
		secrets: make(map[string]string, len(sources)),
		errs:    make(map[string]error),
	}

	for name, src := range sources {
		if strings.TrimSpace(src.Name) == "" {
			src.Name = name
		}
		value, err := Load(src)
		if err != nil {
			p.errs[name] = err
			continue
		}
		p.secrets[name] = value
	}

	return p
}

// Get returns the named credential.
func (p *Provider) Get(name string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%s is %w", name, ErrNotConfigured)
	}

	if v, ok := p.secrets[name]; ok {
		return v, nil
	}
	if err, ok := p.errs[name]; ok {
		return "", err
	}
	return "", fmt.Errorf("%s is %w", name, ErrNotConfigured)
}

// Missing lists names whose sources could not be loaded, sorted.
func (p *Provider) Missing() []string {
	names := make([]string, 0, len(p.errs))
	for name := range p.errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
