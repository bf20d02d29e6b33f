package supervisor

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortBindings(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		exposed, bindings, err := portBindings(nil)
		require.NoError(t, err)
		assert.Nil(t, exposed)
		assert.Nil(t, bindings)
	})

	t.Run("host to container", func(t *testing.T) {
		exposed, bindings, err := portBindings([]string{"127.0.0.1:6380:6379", "8080:80/tcp"})
		require.NoError(t, err)

		assert.Contains(t, exposed, nat.Port("6379/tcp"))
		assert.Contains(t, exposed, nat.Port("80/tcp"))
		assert.Equal(t, []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "6380"}}, bindings[nat.Port("6379/tcp")])
		assert.Equal(t, []nat.PortBinding{{HostIP: "", HostPort: "8080"}}, bindings[nat.Port("80/tcp")])
	})

	t.Run("invalid", func(t *testing.T) {
		_, _, err := portBindings([]string{"not-a-port"})
		assert.Error(t, err)
	})
}
