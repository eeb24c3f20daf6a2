package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrecedence(t *testing.T) {
	t.Setenv("TP_TEST_KEY", "from-os")
	Env = map[string]string{"TP_FILE_KEY": "from-file", "TP_TEST_KEY": "file-wins"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "file-wins", GetEnv("TP_TEST_KEY", "def"))
	assert.Equal(t, "from-file", GetEnv("TP_FILE_KEY", "def"))
	assert.Equal(t, "def", GetEnv("TP_MISSING_KEY", "def"))

	merged := Environment()
	assert.Equal(t, "file-wins", merged["TP_TEST_KEY"])
	assert.Equal(t, "from-file", merged["TP_FILE_KEY"])
}
