package decode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authLike struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func TestDecodeJSONObject(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"type":"auth","userId":42,"extra":true}`), &m))

	out, err := Decode[authLike](m)
	require.NoError(t, err)
	assert.Equal(t, "auth", out.Type)
	assert.Equal(t, "42", out.UserID)
}

type envLike struct {
	Port    int           `env:"PORT"`
	Prod    bool          `env:"PROD"`
	Delay   time.Duration `env:"DELAY"`
	Origins []string      `env:"ORIGINS"`
	Keep    string        `env:"KEEP"`
}

func TestDecodeIntoKeepsDefaults(t *testing.T) {
	out := envLike{Port: 1, Keep: "default"}
	err := DecodeInto(map[string]any{
		"PORT":    "8080",
		"PROD":    "true",
		"DELAY":   "5s",
		"ORIGINS": "https://a.example, https://b.example,,",
		"UNKNOWN": "ignored",
	}, &out, WithTag("env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, out.Port)
	assert.True(t, out.Prod)
	assert.Equal(t, 5*time.Second, out.Delay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, out.Origins)
	assert.Equal(t, "default", out.Keep)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	out := envLike{}
	err := DecodeInto(map[string]any{"PORT": "eighty"}, &out, WithTag("env"))
	assert.Error(t, err)

	assert.Error(t, DecodeInto(nil, &out))
}

func TestReadString(t *testing.T) {
	m := map[string]any{"type": "auth", "n": 1.0}
	s, err := ReadString(m, "type")
	require.NoError(t, err)
	assert.Equal(t, "auth", s)

	_, err = ReadString(m, "n")
	assert.Error(t, err)
	_, err = ReadString(m, "missing")
	assert.Error(t, err)
}
