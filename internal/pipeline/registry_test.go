package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryValidates(t *testing.T) {
	r := NewRegistry()
	endpoint := targetEndpoint(&fakeTargets{})

	assert.Error(t, r.Register(&Instance{Role: RoleTarget, Endpoint: endpoint}))
	assert.Error(t, r.Register(&Instance{ID: "a", Role: RoleTarget}))
	assert.Error(t, r.Register(&Instance{ID: "a", Role: "widget", Endpoint: endpoint}))
	assert.NoError(t, r.Register(&Instance{ID: "a", Role: RoleTarget, Endpoint: endpoint}))
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	register(t, r,
		&Instance{ID: "low", Role: RoleTarget, Priority: 1, Endpoint: targetEndpoint(&fakeTargets{})},
		&Instance{ID: "second", Role: RoleTarget, Priority: 5, Position: 2, Endpoint: targetEndpoint(&fakeTargets{})},
		&Instance{ID: "first", Role: RoleTarget, Priority: 5, Position: 1, Endpoint: targetEndpoint(&fakeTargets{})},
		&Instance{ID: "complication", Role: RoleComplication, Endpoint: actionEndpoint(&fakeActions{})},
	)

	var got []string
	for _, instance := range r.List(RoleTarget) {
		got = append(got, instance.ID)
	}
	assert.Equal(t, []string{"first", "second", "low"}, got)
	assert.Len(t, r.List(""), 4)
	assert.Len(t, r.List(RoleComplication), 1)

	stats := r.Stats()
	assert.Equal(t, 4, stats["total_instances"])
}

func TestRegistryNotifiesChanges(t *testing.T) {
	r := NewRegistry()
	changes := 0
	r.OnChange(func() { changes++ })

	register(t, r, &Instance{ID: "a", Role: RoleTarget, Endpoint: targetEndpoint(&fakeTargets{})})
	r.Unregister("a")
	r.Unregister("a")
	assert.Equal(t, 2, changes)

	_, ok := r.Get("a")
	require.False(t, ok)
}
