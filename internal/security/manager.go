// Package security serves the in-memory reference-data catalog.
package security

import (
	"sort"

	"github.com/bossim/venue/internal/fixml"
)

// Manager answers security list requests from a static catalog keyed
// by symbol
type Manager struct {
	catalog map[string]fixml.SecurityDefinition
	sorted  []fixml.SecurityDefinition
}

// NewManager creates a security manager over the injected catalog
func NewManager(catalog []fixml.SecurityDefinition) *Manager {
	m := &Manager{catalog: make(map[string]fixml.SecurityDefinition, len(catalog))}
	for _, def := range catalog {
		m.catalog[def.Symbol] = def
	}
	m.sorted = make([]fixml.SecurityDefinition, 0, len(m.catalog))
	for _, def := range m.catalog {
		m.sorted = append(m.sorted, def)
	}
	sort.Slice(m.sorted, func(i, j int) bool { return m.sorted[i].Symbol < m.sorted[j].Symbol })
	return m
}

// List returns the catalog entries matching the request: all entries
// for an ALL request, exactly one entry when a known symbol is named,
// and the full catalog otherwise. The response is always the single
// last fragment.
func (m *Manager) List(req *fixml.SecurityListRequest) *fixml.SecurityList {
	resp := &fixml.SecurityList{
		RequestID:    req.RequestID,
		LastFragment: "Y",
	}

	if req.ListType != fixml.SecListReqAll && req.Symbol != "" {
		if def, ok := m.catalog[req.Symbol]; ok {
			resp.Securities = []fixml.SecurityDefinition{def}
			return resp
		}
	}

	resp.Securities = append(resp.Securities, m.sorted...)
	return resp
}
