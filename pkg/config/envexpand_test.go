package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("DISCO_TEST_KEY", "disco_abc123")

	t.Run("expands template variables", func(t *testing.T) {
		out := ExpandEnv([]byte("api_key: {{.DISCO_TEST_KEY}}"))
		assert.Equal(t, "api_key: disco_abc123", string(out))
	})

	t.Run("missing variable expands to empty", func(t *testing.T) {
		out := ExpandEnv([]byte("api_key: {{.DISCO_TEST_UNSET_VAR}}"))
		assert.Equal(t, "api_key: ", string(out))
	})

	t.Run("dollar signs pass through", func(t *testing.T) {
		in := []byte(`pattern: "^secret.*$ and $HOME"`)
		assert.Equal(t, in, ExpandEnv(in))
	})

	t.Run("malformed template passes through", func(t *testing.T) {
		in := []byte("value: {{.unterminated")
		assert.Equal(t, in, ExpandEnv(in))
	})
}
