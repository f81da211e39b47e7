package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/statehound/internal/idp"
)

func boolPtr(b bool) *bool { return &b }

func TestProviderInfoJSON(t *testing.T) {
	t.Run("reads crawler-shaped documents", func(t *testing.T) {
		doc := `{
			"domain": "example.com",
			"login": "https://example.com/login",
			"idps": [{
				"name": "facebook.com",
				"button": "//a[@class='fb-login']",
				"registration_error": false,
				"authorization_url": "https://www.facebook.com/v3.2/dialog/oauth?client_id=42&state=XYZ123&response_type=code",
				"oauth_flow": "code",
				"marker": "rossilaura",
				"vulnerable_1a": true,
				"vulnerable_2a": false,
				"vulnerable_3c": null,
				"authorization_response_1a": "https://example.com/cb?code=abc&state=",
				"vulnerable_bogus": true
			}]
		}`

		var rec Record
		require.NoError(t, json.Unmarshal([]byte(doc), &rec))
		assert.Equal(t, "example.com", rec.Domain)

		info, ok := rec.IdP(idp.Facebook)
		require.True(t, ok)
		assert.Equal(t, "//a[@class='fb-login']", info.Button)
		assert.Equal(t, "code", info.OAuthFlow)
		assert.Equal(t, "rossilaura", info.Marker)

		v1a, _ := ParseVariant("1a")
		v2a, _ := ParseVariant("2a")
		v3c, _ := ParseVariant("3c")

		assert.True(t, info.VulnerableTo(v1a))
		assert.False(t, info.VulnerableTo(v2a))
		assert.False(t, info.Pending(v2a), "a recorded false outcome is not pending")
		assert.True(t, info.Pending(v3c), "a null outcome is still pending")

		o, ok := info.Outcome(v1a)
		require.True(t, ok)
		assert.Equal(t, "https://example.com/cb?code=abc&state=", o.AuthorizationResponse)

		assert.Empty(t, info.Outcomes[Variant{}].AuthorizationResponse, "keys outside the variant grammar are dropped")
	})

	t.Run("round trips outcomes including nulls", func(t *testing.T) {
		v1a, _ := ParseVariant("1a")
		v0b, _ := ParseVariant("0b")

		info := ProviderInfo{
			Name:             idp.Google,
			Direct:           true,
			AuthorizationURL: "https://accounts.google.com/o/oauth2/auth?client_id=42",
			Marker:           "victjoon",
		}
		info.SetVulnerable(v1a, boolPtr(true))
		info.SetAuthorizationResponse(v1a, "https://example.com/cb?code=abc")
		info.SetVulnerable(v0b, nil)

		data, err := json.Marshal(info)
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.JSONEq(t, "true", string(raw["vulnerable_1a"]))
		assert.JSONEq(t, "null", string(raw["vulnerable_0b"]), "a cleared outcome persists as an explicit null")
		assert.NotContains(t, raw, "authorization_response_0b")

		var back ProviderInfo
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.VulnerableTo(v1a))
		assert.True(t, back.Pending(v0b))
		o, ok := back.Outcome(v1a)
		require.True(t, ok)
		assert.Equal(t, "https://example.com/cb?code=abc", o.AuthorizationResponse)
	})
}

func TestRecordIdP(t *testing.T) {
	rec := Record{
		Domain: "example.com",
		IdPs: []ProviderInfo{
			{Name: idp.Facebook},
			{Name: idp.Google},
		},
	}

	fb, ok := rec.IdP(idp.Facebook)
	require.True(t, ok)
	assert.Equal(t, idp.Facebook, fb.Name)

	// Mutations through the pointer must be visible on the record.
	fb.Marker = "rossilaura"
	again, _ := rec.IdP(idp.Facebook)
	assert.Equal(t, "rossilaura", again.Marker)

	rec = Record{Domain: "solo.com", IdPs: []ProviderInfo{{Name: idp.Google}}}
	_, ok = rec.IdP(idp.Facebook)
	assert.False(t, ok)
}

func TestRecordAuthorizationResponse(t *testing.T) {
	v := Variant{Scenario: ScenarioRandomState, Context: ContextCold}

	t.Run("first response wins without overwrite", func(t *testing.T) {
		info := ProviderInfo{Name: idp.Facebook}
		info.RecordAuthorizationResponse(v, "https://a.example/cb?code=first", false)
		info.RecordAuthorizationResponse(v, "https://a.example/cb?code=second", false)
		assert.Equal(t, "https://a.example/cb?code=first", info.Outcomes[v].AuthorizationResponse)
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		info := ProviderInfo{Name: idp.Facebook}
		info.RecordAuthorizationResponse(v, "https://a.example/cb?code=first", false)
		info.RecordAuthorizationResponse(v, "https://a.example/cb?code=second", true)
		assert.Equal(t, "https://a.example/cb?code=second", info.Outcomes[v].AuthorizationResponse)
	})

	t.Run("does not clobber the verdict", func(t *testing.T) {
		info := ProviderInfo{Name: idp.Facebook}
		info.SetVulnerable(v, boolPtr(true))
		info.RecordAuthorizationResponse(v, "https://a.example/cb?code=x", true)
		assert.True(t, info.VulnerableTo(v))
	})
}

func TestFindMarker(t *testing.T) {
	markers := []string{"laura rossi", "rossi laura", "rossilaura"}

	t.Run("is case insensitive on both sides", func(t *testing.T) {
		assert.Equal(t, "rossilaura", FindMarker("<p>Welcome back ROSSILAURA!</p>", markers))
		assert.Equal(t, "ROSSILAURA", FindMarker("<p>rossilaura</p>", []string{"ROSSILAURA"}),
			"the match is returned as listed, not as it appears on the page")
	})

	t.Run("returns the first match in candidate order", func(t *testing.T) {
		source := "profile: rossilaura, display name: Laura Rossi"
		assert.Equal(t, "laura rossi", FindMarker(source, markers))
	})

	t.Run("returns empty when nothing matches", func(t *testing.T) {
		assert.Equal(t, "", FindMarker("<p>Welcome, anonymous</p>", markers))
		assert.Equal(t, "", FindMarker("anything", nil))
	})
}
