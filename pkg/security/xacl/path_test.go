package xacl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURLPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "/", false},
		{"/", "/", false},
		{"/api/v1", "/api/v1", false},
		{"/api/v1/", "/api/v1/", false},
		{"//api///v1", "/api/v1", false},
		{"/public/../admin/keys", "/admin/keys", false},
		{"/./a/./b/", "/a/b/", false},
		{"/../../etc/passwd", "/etc/passwd", false},
		{"api/v1", "", true},
		{"/a\x00b", "", true},
		{"/a\nb", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURLPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURLPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathPattern(t *testing.T) {
	valid := map[string]string{
		"/":                  "/",
		"/api/v1/health":     "/api/v1/health",
		" /api//users/{id} ": "/api/users/{id}",
		"/static/{*rest}":    "/static/{*rest}",
		"/a/{x}/b/{y}/":      "/a/{x}/b/{y}/",
	}
	for in, want := range valid {
		p, err := ParsePathPattern(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, p.String())
	}

	for _, in := range []string{
		"", "api", "/a/{}", "/a/{*}", "/a/x{id}", "/a/{id}x", "/a/{*rest}/b", "/a/{i{d}", "/a\x00",
	} {
		_, err := ParsePathPattern(in)
		assert.ErrorIs(t, err, ErrInvalidPathPattern, in)
	}
	assert.Panics(t, func() { MustParsePathPattern("relative") })
}

func TestPathPattern_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/", "/", true},
		{"/", "/a", false},
		{"/admin", "/admin", true},
		{"/admin", "/admin/", false},
		{"/admin", "/admin/users", false},
		{"/admin", "/administrator", false},
		{"/users/{id}", "/users/42", true},
		{"/users/{id}", "/users/", false},
		{"/users/{id}", "/users/42/posts", false},
		{"/users/{id}/posts", "/users/42/posts", true},
		{"/static/{*rest}", "/static/css/site.css", true},
		{"/static/{*rest}", "/static/a", true},
		{"/static/{*rest}", "/static/", false},
		{"/static/{*rest}", "/static", false},
		{"/{*all}", "/", false},
		{"/{*all}", "/anything/at/all", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParsePathPattern(tt.pattern).Matches(tt.path))
		})
	}
}

func TestPathPattern_Covers(t *testing.T) {
	tests := []struct {
		p, q string
		want bool
	}{
		{"/admin", "/admin", true},
		{"/admin", "/admin/", false},
		{"/admin/{*rest}", "/admin/users", true},
		{"/admin/{*rest}", "/admin/{id}/keys", true},
		{"/admin/{*rest}", "/admin", false},
		{"/users/{id}", "/users/42", true},
		{"/users/{id}", "/users/{*rest}", false},
		{"/users/{id}", "/users/", false},
		{"/users/42", "/users/{id}", false},
		{"/{*all}", "/", false},
		{"/{*all}", "/a", true},
	}
	for _, tt := range tests {
		t.Run(tt.p+" "+tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParsePathPattern(tt.p).Covers(MustParsePathPattern(tt.q)))
		})
	}
}

func TestPathRules_StaticFirst(t *testing.T) {
	r := newPathRules([]PathPattern{
		MustParsePathPattern("/users/{id}"),
		MustParsePathPattern("/users/me"),
	})

	p, ok := r.match("/users/me")
	require.True(t, ok)
	assert.Equal(t, "/users/me", p.String())

	p, ok = r.match("/users/7")
	require.True(t, ok)
	assert.Equal(t, "/users/{id}", p.String())

	_, ok = r.match("/groups/7")
	assert.False(t, ok)
}

func TestPolicy_IsURLPathAllowed(t *testing.T) {
	p := NewBuilder().
		AddDeniedURLPath("/admin/{*rest}").
		AddDeniedURLPath("/internal").
		AddAllowedURLPath("/api/{*rest}").
		MustBuild()

	tests := []struct {
		path    string
		allowed bool
		reason  Reason
		rule    string
	}{
		{"/admin/users", false, ExplicitDeny, "/admin/{*rest}"},
		{"/public/../admin/users", false, ExplicitDeny, "/admin/{*rest}"},
		{"//internal", false, ExplicitDeny, "/internal"},
		{"/api/v1/items", true, ExplicitAllow, "/api/{*rest}"},
		{"/", true, DefaultAllow, ""},
		{"", true, DefaultAllow, ""},
		{"relative", false, InvalidInput, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d := p.IsURLPathAllowed(tt.path)
			assert.Equal(t, SubjectPath, d.Subject)
			assert.Equal(t, tt.allowed, d.Allowed, d.String())
			assert.Equal(t, tt.reason, d.Reason, d.String())
			assert.Equal(t, tt.rule, d.Rule)
		})
	}

	strict := NewBuilder().SetURLPathDefault(Deny).AddAllowedURLPath("/v1/{*rest}").MustBuild()
	assert.Equal(t, DefaultDeny, strict.IsURLPathAllowed("/v2/items").Reason)
	assert.True(t, strict.IsURLPathAllowed("/v1/items").Allowed)
	assert.Equal(t, "deny path /v2/items (default-deny)", strict.IsURLPathAllowed("/v2/items").String())
}
