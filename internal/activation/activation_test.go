package activation

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestActivatedFDs(t *testing.T) {
	const pid = 4242

	tests := []struct {
		name    string
		env     map[string]string
		want    int
		wantErr string
	}{
		{name: "not activated", env: map[string]string{}},
		{name: "other process", env: map[string]string{"LISTEN_PID": "1", "LISTEN_FDS": "2"}},
		{name: "missing fds", env: map[string]string{"LISTEN_PID": "4242"}},
		{name: "zero fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "0"}},
		{name: "two sockets", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "2"}, want: 2},
		{name: "invalid pid", env: map[string]string{"LISTEN_PID": "nope", "LISTEN_FDS": "1"}, wantErr: "invalid LISTEN_PID"},
		{name: "invalid fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "x"}, wantErr: "invalid LISTEN_FDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := activatedFDs(envFrom(tt.env), pid)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestListeners_NotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	require.NoError(t, err)
	assert.Nil(t, listeners)
}

func TestListeners_InvalidEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "many")

	_, err := Listeners()
	assert.Error(t, err)
}

func TestListen_FallsBackToAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")

	listeners, activated, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.Len(t, listeners, 1)
	defer func() { _ = listeners[0].Close() }()

	assert.False(t, activated)
	assert.Contains(t, listeners[0].Addr().String(), "127.0.0.1:")
}

func TestListen_InvalidAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")

	_, _, err := Listen("not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
