package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distroreg/registry/catalog"
)

func seedService(t *testing.T, r *Registry, namespace, name string, ips ...string) {
	t.Helper()
	for _, ipPort := range ips {
		ip, port := splitIPPort(t, ipPort)
		inst := catalog.NewInstance(ip, port, "DEFAULT", name, true)
		require.NoError(t, r.RegisterInstance(namespace, name, "DEFAULT_GROUP", true, inst))
	}
	if len(ips) == 0 {
		_, err := r.createEmptyServiceIfAbsent(namespace, name, "DEFAULT_GROUP", true, "")
		require.NoError(t, err)
	}
}

func splitIPPort(t *testing.T, ipPort string) (string, int) {
	t.Helper()
	for i := len(ipPort) - 1; i >= 0; i-- {
		if ipPort[i] == ':' {
			port := 0
			for _, c := range ipPort[i+1:] {
				port = port*10 + int(c-'0')
			}
			return ipPort[:i], port
		}
	}
	t.Fatalf("malformed ip:port %q", ipPort)
	return "", 0
}

func TestSearchServicesFullMatchOnly(t *testing.T) {
	r := newTestRegistry()
	seedService(t, r, "public", "DEFAULT_GROUP@@orders-svc", "10.0.0.1:8080")
	seedService(t, r, "public", "DEFAULT_GROUP@@orders-svc-v2", "10.0.0.2:8080")

	got, err := r.SearchServices("public", "DEFAULT_GROUP@@orders-svc")
	require.NoError(t, err)
	require.Len(t, got, 1, "full-match semantics must not let a substring match a longer name")
	assert.Equal(t, "DEFAULT_GROUP@@orders-svc", got[0].Name)
}

func TestSearchServicesWildcard(t *testing.T) {
	r := newTestRegistry()
	seedService(t, r, "public", "DEFAULT_GROUP@@orders-svc", "10.0.0.1:8080")
	seedService(t, r, "public", "DEFAULT_GROUP@@orders-svc-v2", "10.0.0.2:8080")
	seedService(t, r, "public", "DEFAULT_GROUP@@billing-svc", "10.0.0.3:8080")

	got, err := r.SearchServices("public", "DEFAULT_GROUP@@orders.*")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchServicesRejectsMalformedPattern(t *testing.T) {
	r := newTestRegistry()
	_, err := r.SearchServices("public", "(unterminated")
	assert.Error(t, err)
}

func TestGetPagedServiceSlicesAndCountsTotal(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 5; i++ {
		seedService(t, r, "public", "DEFAULT_GROUP@@svc-0"+string(rune('0'+i)), "10.0.0."+string(rune('1'+i))+":8080")
	}

	page, total, err := r.GetPagedService("public", 0, 2, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	lastPage, total, err := r.GetPagedService("public", 2, 2, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, lastPage, 1, "the final partial page should not overrun the total")
}

func TestGetPagedServiceOutOfRangeReturnsEmptyPage(t *testing.T) {
	r := newTestRegistry()
	seedService(t, r, "public", "DEFAULT_GROUP@@svc", "10.0.0.1:8080")

	page, total, err := r.GetPagedService("public", 5, 2, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, page)
}

func TestGetPagedServiceFiltersByParamGroupAndName(t *testing.T) {
	r := newTestRegistry()
	seedService(t, r, "public", "GROUP_A@@orders", "10.0.0.1:8080")
	seedService(t, r, "public", "GROUP_B@@orders", "10.0.0.2:8080")

	page, total, err := r.GetPagedService("public", 0, 10, "GROUP_A@@", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "GROUP_A@@orders", page[0].Name)
}

func TestGetPagedServiceFiltersByHasIpCount(t *testing.T) {
	r := newTestRegistry()
	seedService(t, r, "public", "DEFAULT_GROUP@@empty-svc")
	seedService(t, r, "public", "DEFAULT_GROUP@@full-svc", "10.0.0.1:8080")

	page, total, err := r.GetPagedService("public", 0, 10, "", "", true)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "DEFAULT_GROUP@@full-svc", page[0].Name)
}

func TestGetPagedServiceFiltersByContainedInstance(t *testing.T) {
	r := newTestRegistry()
	seedService(t, r, "public", "DEFAULT_GROUP@@svc-a", "10.0.0.1:8080")
	seedService(t, r, "public", "DEFAULT_GROUP@@svc-b", "10.0.0.2:9090")

	page, _, err := r.GetPagedService("public", 0, 10, "", "10.0.0.2:9090", false)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "DEFAULT_GROUP@@svc-b", page[0].Name)
}
