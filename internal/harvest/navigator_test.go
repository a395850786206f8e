package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavigatorJumpToRequiresSession(t *testing.T) {
	t.Parallel()

	site := newFakeSite(3)
	nav := NewNavigator(site, site.layout, nil)

	require.ErrorIs(t, nav.JumpTo(context.Background(), SessionContext{}, 2), ErrNoSession)
	require.ErrorIs(t, nav.JumpTo(context.Background(), SessionContext{Token: "t"}, 0), ErrInvalidCursor)
	assert.Empty(t, site.scripts)

	require.NoError(t, nav.JumpTo(context.Background(), SessionContext{Token: "t"}, 2))
	assert.Equal(t, []string{"__doLinkPostBack('','target~~fulltext||args~~2','');"}, site.scripts)
	assert.Equal(t, 2, site.onRecord)
}

func TestNavigatorRecordURL(t *testing.T) {
	t.Parallel()

	nav := NewNavigator(nil, DefaultLayout(), nil)
	got := nav.RecordURL(SessionContext{Token: "abc%40mgr"}, 8)
	assert.Equal(t,
		"https://web.b.ebscohost.com/ehost/detail/detail?vid=8&sid=abc%40mgr&bdata=Jmxhbmc9cnUmc2l0ZT1laG9zdC1saXZl",
		got)

	assert.Empty(t, NewNavigator(nil, Layout{}, nil).RecordURL(SessionContext{Token: "x"}, 1))
}

func TestNavigatorAdvance(t *testing.T) {
	t.Parallel()

	site := newFakeSite(2)
	nav := NewNavigator(site, site.layout, nil)
	require.NoError(t, nav.OpenFirst(context.Background()))

	more, err := nav.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, 2, site.onRecord)

	more, err = nav.Advance(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 2, site.onRecord, "exhaustion does not move the page")
}

func TestNavigatorAdvanceLookupError(t *testing.T) {
	t.Parallel()

	site := newFakeSite(2)
	site.findErr = errors.New("target closed")
	nav := NewNavigator(site, site.layout, nil)

	more, err := nav.Advance(context.Background())
	require.Error(t, err)
	assert.False(t, more)
}

func TestNavigatorOpenFirstNoResults(t *testing.T) {
	t.Parallel()

	site := newFakeSite(0)
	nav := NewNavigator(site, site.layout, nil)
	require.ErrorIs(t, nav.OpenFirst(context.Background()), ErrNoResults)
}
