package alwaysoffline

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "[2001:db8::1]", clientID(req))

	req.Header.Set(clientIDHeader, "tab-7")
	assert.Equal(t, "tab-7", clientID(req))
}

func TestClientRegistry(t *testing.T) {
	v1 := &Worker{id: "w1", manifest: Manifest{Version: "v1"}}
	v2 := &Worker{id: "w2", manifest: Manifest{Version: "v2"}}
	c := newClients()

	c.navigate("b", nil)
	c.navigate("a", v1)
	assert.Equal(t, v1, c.controllerOf("a"))
	assert.Nil(t, c.controllerOf("b"))
	assert.Equal(t, 1, c.controlledBy(v1))

	assert.Equal(t, 1, c.replace(v1, v2))
	assert.Equal(t, 0, c.controlledBy(v1))

	assert.Equal(t, 2, c.claim(v2))
	assert.Equal(t, []ClientInfo{
		{ID: "a", Controller: "v2", WorkerID: "w2"},
		{ID: "b", Controller: "v2", WorkerID: "w2"},
	}, c.list())

	assert.True(t, c.release("a"))
	assert.False(t, c.release("a"))
	assert.Len(t, c.list(), 1)
}
