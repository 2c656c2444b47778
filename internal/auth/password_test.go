package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := HashPassword("pass1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "pass1", hash)

	require.NoError(t, ComparePassword(hash, "pass1"))

	err = ComparePassword(hash, "pass2")
	require.Error(t, err)
	assert.True(t, IsMismatch(err))
}

func TestHashPasswordClampsCost(t *testing.T) {
	hash, err := HashPassword("pass1", 0)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

func TestLongPasswordsUseFirst72Bytes(t *testing.T) {
	long := strings.Repeat("p", 100)
	hash, err := HashPassword(long, bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, ComparePassword(hash, long))
	require.NoError(t, ComparePassword(hash, long[:72]))
	assert.True(t, IsMismatch(ComparePassword(hash, long[:71])))
}
