package registry_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittoshare/pkg/registry"
	"github.com/marmos91/dittoshare/pkg/registry/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(conns []registry.Connection) []string {
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.ID()
	}
	return out
}

func TestRegister_MultipleConnectionsPerIdentity(t *testing.T) {
	reg := registry.New()

	reg.Register(registrytest.NewConn("c1", "u1"))
	reg.Register(registrytest.NewConn("c2", "u1"))
	reg.Register(registrytest.NewConn("c3", "u2"))

	assert.Equal(t, []string{"c1", "c2"}, ids(reg.ConnectionsFor("u1")))
	assert.Equal(t, []string{"c3"}, ids(reg.ConnectionsFor("u2")))
	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, 2, reg.CountIdentities())
}

func TestRegister_SameHandleTwice(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u1")

	reg.Register(c)
	reg.Register(c)

	assert.Len(t, reg.ConnectionsFor("u1"), 1)
	assert.Equal(t, 1, reg.Count())
}

func TestConnectionsFor_UnknownIdentity(t *testing.T) {
	reg := registry.New()

	conns := reg.ConnectionsFor("nobody")
	assert.NotNil(t, conns)
	assert.Empty(t, conns)
}

func TestConnectionsFor_ReturnsSnapshot(t *testing.T) {
	reg := registry.New()
	reg.Register(registrytest.NewConn("c1", "u1"))

	snapshot := reg.ConnectionsFor("u1")
	reg.Register(registrytest.NewConn("c2", "u1"))

	assert.Len(t, snapshot, 1)
	assert.Len(t, reg.ConnectionsFor("u1"), 2)
}

func TestRegisterThenDeregister_LeavesSetUnchanged(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
	}{
		{"empty identity", nil},
		{"identity with connections", []string{"c1", "c2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			for _, id := range tt.existing {
				reg.Register(registrytest.NewConn(id, "u1"))
			}
			before := ids(reg.ConnectionsFor("u1"))

			c := registrytest.NewConn("new", "u1")
			reg.Register(c)
			require.True(t, reg.Deregister(c))

			assert.Equal(t, before, ids(reg.ConnectionsFor("u1")))
			assert.Equal(t, len(tt.existing), reg.Count())
		})
	}
}

func TestDeregister_DropsEmptySet(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u1")
	reg.Register(c)

	require.True(t, reg.Deregister(c))
	assert.Equal(t, 0, reg.CountIdentities())
	assert.False(t, reg.Deregister(c), "second deregister is a no-op")
}

func TestDeregister_Unknown(t *testing.T) {
	reg := registry.New()
	reg.Register(registrytest.NewConn("c1", "u1"))

	assert.False(t, reg.Deregister(registrytest.NewConn("other", "u1")))
	assert.False(t, reg.Deregister(registrytest.NewConn("c1", "u2")))
	assert.Equal(t, 1, reg.Count())
}

func TestRemoveAll(t *testing.T) {
	reg := registry.New()
	reg.Register(registrytest.NewConn("c1", "u1"))
	reg.Register(registrytest.NewConn("c2", "u1"))
	reg.Register(registrytest.NewConn("c3", "u2"))

	all := reg.RemoveAll()
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, ids(all))
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, reg.CountIdentities())
	assert.Empty(t, reg.ConnectionsFor("u1"))

	// The registry stays usable.
	reg.Register(registrytest.NewConn("c4", "u1"))
	assert.Equal(t, []string{"c4"}, ids(reg.ConnectionsFor("u1")))
}

func TestConcurrentChurn_SameIdentity(t *testing.T) {
	reg := registry.New()

	// Connections that stay open throughout the churn.
	for i := 0; i < 4; i++ {
		reg.Register(registrytest.NewConn(fmt.Sprintf("stable-%d", i), "u1"))
	}

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := registrytest.NewConn(fmt.Sprintf("w%d-%d", w, i), "u1")
				reg.Register(c)
				_ = reg.ConnectionsFor("u1")
				assert.True(t, reg.Deregister(c))
			}
		}(w)
	}
	wg.Wait()

	assert.ElementsMatch(t,
		[]string{"stable-0", "stable-1", "stable-2", "stable-3"},
		ids(reg.ConnectionsFor("u1")))
	assert.Equal(t, 4, reg.Count())
}

func TestConcurrentChurn_SetRecreation(t *testing.T) {
	reg := registry.New()

	// Each worker owns its connection, and the identity's set repeatedly
	// empties and is recreated; no registration may be lost to a dropped set.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				c := registrytest.NewConn(fmt.Sprintf("w%d-%d", w, i), "u1")
				reg.Register(c)
				found := false
				for _, got := range reg.ConnectionsFor("u1") {
					if got.ID() == c.ID() {
						found = true
					}
				}
				assert.True(t, found, "registered connection must be visible")
				reg.Deregister(c)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, reg.CountIdentities())
}
