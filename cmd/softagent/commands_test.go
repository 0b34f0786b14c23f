package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseParams проверяет разбор аргументов ключ=значение
func TestParseParams(t *testing.T) {
	params := parseParams([]string{"user=alice", "registrar=sip.example.com:5060", "мусор"})

	assert.Equal(t, "alice", params["user"])
	assert.Equal(t, "sip.example.com:5060", params["registrar"])
	assert.NotContains(t, params, "мусор")
}

// TestResolvePassword проверяет literal и env: синтаксис пароля
func TestResolvePassword(t *testing.T) {
	password, err := resolvePassword("секрет")
	require.NoError(t, err)
	assert.Equal(t, "секрет", password)

	password, err = resolvePassword("")
	require.NoError(t, err)
	assert.Empty(t, password)

	t.Setenv("SOFTAGENT_TEST_PASSWORD", "из-окружения")
	password, err = resolvePassword("env:SOFTAGENT_TEST_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "из-окружения", password)

	_, err = resolvePassword("env:SOFTAGENT_NO_SUCH_VAR")
	require.Error(t, err)
}
