package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bossim/venue/internal/fixml"
)

func testCatalog() []fixml.SecurityDefinition {
	return []fixml.SecurityDefinition{
		{Symbol: "KGHM", Description: "KGHM Polska Miedz", Market: "WSE"},
		{Symbol: "PKO", Description: "PKO Bank Polski", Market: "WSE"},
		{Symbol: "PKN", Description: "PKN Orlen", Market: "WSE"},
	}
}

func TestList_All(t *testing.T) {
	m := NewManager(testCatalog())

	resp := m.List(&fixml.SecurityListRequest{RequestID: "sec-1", ListType: fixml.SecListReqAll})

	assert.Equal(t, "sec-1", resp.RequestID)
	assert.Equal(t, "Y", resp.LastFragment)
	require.Len(t, resp.Securities, 3)
	// Deterministic order
	assert.Equal(t, "KGHM", resp.Securities[0].Symbol)
	assert.Equal(t, "PKN", resp.Securities[1].Symbol)
	assert.Equal(t, "PKO", resp.Securities[2].Symbol)
}

func TestList_NamedSymbol(t *testing.T) {
	m := NewManager(testCatalog())

	resp := m.List(&fixml.SecurityListRequest{
		RequestID: "sec-2",
		ListType:  fixml.SecListReqSymbol,
		Symbol:    "PKO",
	})

	require.Len(t, resp.Securities, 1)
	assert.Equal(t, "PKO", resp.Securities[0].Symbol)
	assert.Equal(t, "PKO Bank Polski", resp.Securities[0].Description)
}

func TestList_UnknownSymbolFallsBackToFullCatalog(t *testing.T) {
	m := NewManager(testCatalog())

	resp := m.List(&fixml.SecurityListRequest{
		RequestID: "sec-3",
		ListType:  fixml.SecListReqSymbol,
		Symbol:    "NOPE",
	})

	assert.Len(t, resp.Securities, 3)
	assert.Equal(t, "Y", resp.LastFragment)
}
