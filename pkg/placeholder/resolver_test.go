package placeholder

import (
	"reflect"
	"testing"
)

func TestResolveStable(t *testing.T) {
	t.Parallel()

	m := Map{Stable: map[string]string{"id": "42", "channel": "ops"}}
	got := Resolve("id: {{id}}\nchannel: {{channel}}\ngenre: {{genre}}\n", m, ScopeStable)
	want := "id: 42\nchannel: ops\ngenre: {{genre}}\n"
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	m := Map{Stable: map[string]string{"id": "42"}}
	once := Resolve("id: {{id}}", m, ScopeStable)
	twice := Resolve(once, m, ScopeStable)
	if once != twice {
		t.Fatalf("re-resolving changed content: %q vs %q", once, twice)
	}
}

func TestResolveUnknownTokensPassThrough(t *testing.T) {
	t.Parallel()

	content := "future: {{SOME_FUTURE_TOKEN}}"
	if got := Resolve(content, Map{Stable: map[string]string{"id": "42"}}, ScopeStable); got != content {
		t.Fatalf("unknown token was altered: %q", got)
	}
}

func TestResolveScopeSeparation(t *testing.T) {
	t.Parallel()

	m := Map{
		Stable:   map[string]string{"id": "42"},
		Volatile: map[string]string{"genre": "scifi"},
	}
	content := "id: {{id}}, genre: {{genre}}"
	stable := Resolve(content, m, ScopeStable)
	if stable != "id: 42, genre: {{genre}}" {
		t.Fatalf("stable resolution touched volatile token: %q", stable)
	}
	volatile := Resolve(content, m, ScopeVolatile)
	if volatile != "id: {{id}}, genre: scifi" {
		t.Fatalf("volatile resolution touched stable token: %q", volatile)
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := Tokens("a {{one}} b {{two}} c {{one}}")
	want := []string{"one", "two"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokens = %v, want %v", got, want)
	}
}

func TestMissing(t *testing.T) {
	t.Parallel()

	decls := []Decl{
		{Name: "id", Scope: ScopeStable, Required: true},
		{Name: "channel", Scope: ScopeStable},
		{Name: "genre", Scope: ScopeVolatile, Required: true},
	}

	missing := Missing(decls, Map{Stable: map[string]string{}}, ScopeStable)
	if !reflect.DeepEqual(missing, []string{"id"}) {
		t.Fatalf("expected id missing, got %v", missing)
	}

	missing = Missing(decls, Map{Stable: map[string]string{"id": "42"}}, ScopeStable)
	if len(missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", missing)
	}
}
