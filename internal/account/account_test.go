package account

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_StringRedactsPassword(t *testing.T) {
	c := Credentials{Login: "12345", Password: "hunter2", Server: "Broker-Live"}
	s := c.String()
	assert.Contains(t, s, "12345")
	assert.Contains(t, s, "Broker-Live")
	assert.NotContains(t, s, "hunter2")
}

func TestCredentialsFromEnv_MissingVarsErrors(t *testing.T) {
	_, err := CredentialsFromEnv(999)
	assert.Error(t, err)
}

func TestCredentialsFromEnv_ReadsPrefixedVars(t *testing.T) {
	const accountID = 42
	prefix := fmt.Sprintf("MT5_%d_", accountID)
	t.Setenv(prefix+"LOGIN", "login42")
	t.Setenv(prefix+"PASSWORD", "secret42")
	t.Setenv(prefix+"SERVER", "Broker-Demo")

	creds, err := CredentialsFromEnv(accountID)
	require.NoError(t, err)
	assert.Equal(t, "login42", creds.Login)
	assert.Equal(t, "secret42", creds.Password)
	assert.Equal(t, "Broker-Demo", creds.Server)
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	err := LoadDotEnv(os.TempDir() + "/no-such-env-file-for-test")
	assert.NoError(t, err)
}

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(1)
	assert.False(t, ok)

	r.Put(&Account{ID: 1, Login: "100", Active: true})
	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "100", got.Login)
	assert.Equal(t, []int64{1}, r.IDs())

	r.Remove(1)
	_, ok = r.Get(1)
	assert.False(t, ok)
}
