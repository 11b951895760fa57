package reservation

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/page"
)

func TestParse(t *testing.T) {
	req, err := Parse([]byte(`{"date":"2024-05-01","time":"18:30","guests":2,"name":"Jan Novák","phone":"123456789","notes":"u okna"}`))
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01", req.Date())
	assert.Equal(t, "1", req.Day())
	assert.Equal(t, "18:30", req.Time())
	assert.Equal(t, 2, req.Guests())
	assert.Equal(t, "Jan", req.FirstName())
	assert.Equal(t, "Novák", req.LastName())
	assert.Equal(t, "Jan Novák", req.FullName())
	assert.Equal(t, "123456789", req.Phone())
	assert.Equal(t, "u okna", req.Notes())
	assert.Equal(t, "2024-05-01T18:30:00Z", req.Start().Format("2006-01-02T15:04:05Z07:00"))
}

func TestParseVariants(t *testing.T) {
	t.Run("aliases and ISO time", func(t *testing.T) {
		req, err := Parse([]byte(`{"date":"2024-12-24","time":"2024-12-24T19:05:00+01:00","people":4,"name":"Madonna","phone":"1","note":"dort"}`))
		require.NoError(t, err)
		assert.Equal(t, "19:05", req.Time())
		assert.Equal(t, 4, req.Guests())
		assert.Equal(t, "Madonna", req.FirstName())
		assert.Equal(t, "Madonna", req.LastName())
		assert.Equal(t, "dort", req.Notes())
	})

	t.Run("table variant needs no party details", func(t *testing.T) {
		req, err := Parse([]byte(`{"date":"2024-05-01","time":"12:00","table":"T4"}`))
		require.NoError(t, err)
		assert.Equal(t, "T4", req.Table())
		assert.Zero(t, req.Guests())
	})

	t.Run("option overrides", func(t *testing.T) {
		req, err := Parse([]byte(`{"date":"2024-05-01","time":"12:00","guests":1,"name":"A B","phone":"1","duration":"1:30","source":"Web","occasion":"Narozeniny"}`))
		require.NoError(t, err)
		assert.Equal(t, "1:30", req.Duration())
		assert.Equal(t, "Web", req.Source())
		assert.Equal(t, "Narozeniny", req.Occasion())
	})
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		message string
	}{
		{"empty", ``, "empty"},
		{"malformed", `{"date":`, "not valid JSON"},
		{"missing date", `{"time":"18:30","guests":2,"name":"Jan","phone":"1"}`, "missing required keys: date"},
		{"missing party", `{"date":"2024-05-01","time":"18:30"}`, "guests, name, phone"},
		{"bad date", `{"date":"01.05.2024","time":"18:30","guests":2,"name":"Jan","phone":"1"}`, "invalid date"},
		{"bad time", `{"date":"2024-05-01","time":"half past six","guests":2,"name":"Jan","phone":"1"}`, "invalid time"},
		{"zero guests", `{"date":"2024-05-01","time":"18:30","guests":0,"name":"Jan","phone":"1"}`, "positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"date":"2024-05-01","time":"18:30","guests":2,"name":"Jan Novák","phone":"1"}`), 0o600))

	req, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, req.Guests())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestSplitName(t *testing.T) {
	tests := map[string][2]string{
		"Jan Novák":         {"Jan", "Novák"},
		"  Jan   van Beek ": {"Jan", "van Beek"},
		"Cher":              {"Cher", "Cher"},
		"":                  {"", ""},
	}
	for in, want := range tests {
		first, last := SplitName(in)
		assert.Equal(t, want, [2]string{first, last}, "split of %q", in)
	}
}

func TestDecodeCookies(t *testing.T) {
	raw := `[{"name":"sid","value":"abc"},{"name":"pref","value":"x","domain":"reservation.dish.co","path":"/app","secure":false,"httpOnly":true,"sameSite":"strict"}]`
	want := []page.Cookie{
		{Name: "sid", Value: "abc", Domain: ".dish.co", Path: "/", Secure: true, SameSite: "Lax"},
		{Name: "pref", Value: "x", Domain: "reservation.dish.co", Path: "/app", Secure: false, HTTPOnly: true, SameSite: "Strict"},
	}

	t.Run("raw JSON", func(t *testing.T) {
		got, err := DecodeCookies(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("base64", func(t *testing.T) {
		got, err := DecodeCookies(base64.StdEncoding.EncodeToString([]byte(raw)))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := DecodeCookies("  ")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeCookies("not-cookies")
		assert.ErrorIs(t, err, failure.ErrConfiguration)
	})

	t.Run("nameless cookie", func(t *testing.T) {
		_, err := DecodeCookies(`[{"value":"x"}]`)
		assert.ErrorIs(t, err, failure.ErrConfiguration)
	})
}

func TestCredentials(t *testing.T) {
	assert.True(t, Credentials{}.Empty())
	assert.NoError(t, Credentials{}.Validate())
	assert.NoError(t, Credentials{Username: "u", Password: "p"}.Validate())
	assert.ErrorIs(t, Credentials{Username: "u"}.Validate(), failure.ErrConfiguration)
}
