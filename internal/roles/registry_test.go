package roles

import (
	"errors"
	"testing"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

func TestNormalizePathIdempotent(t *testing.T) {
	home := t.TempDir()
	cases := []string{
		"~/notes/todo.txt",
		"/tmp/a/../b",
		"/tmp//a/",
		"relative/path",
	}
	for _, c := range cases {
		first, err := NormalizePath(home, c)
		if err != nil {
			t.Fatalf("NormalizePath(%q) error: %v", c, err)
		}
		second, err := NormalizePath(home, first)
		if err != nil {
			t.Fatalf("NormalizePath(%q) (second pass) error: %v", first, err)
		}
		if first != second {
			t.Errorf("NormalizePath not idempotent for %q: first=%q second=%q", c, first, second)
		}
	}
}

func TestNormalizePathExpandsHome(t *testing.T) {
	home := "/home/agent"
	got, err := NormalizePath(home, "~/workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/home/agent/workspace"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizePathStripsTrailingSlash(t *testing.T) {
	got, err := NormalizePath("/home/agent", "/tmp/sandbox/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/tmp/sandbox" {
		t.Errorf("got %q, want /tmp/sandbox", got)
	}
}

func TestNormalizePathRoot(t *testing.T) {
	got, err := NormalizePath("/home/agent", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/" {
		t.Errorf("got %q, want /", got)
	}
}

func TestContainment(t *testing.T) {
	cases := []struct {
		child, within string
		want          bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/ab", "/a", false},
		{"/a/b/c", "/a/b", true},
		{"/b", "/a", false},
	}
	for _, c := range cases {
		got := Containment(c.child, c.within)
		if got != c.want {
			t.Errorf("Containment(%q, %q) = %v, want %v", c.child, c.within, got, c.want)
		}
	}
}

func TestLookupUnknownRole(t *testing.T) {
	_, err := Lookup(models.ArgumentRole("bogus"))
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

func TestNormalizeGithubOwnerLowercases(t *testing.T) {
	got, err := Normalize(models.RoleGithubOwner, "", "  SomeOrg ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "someorg" {
		t.Errorf("got %q, want someorg", got)
	}
}

func TestIsPathRole(t *testing.T) {
	pathRoles := []models.ArgumentRole{models.RoleReadPath, models.RoleWritePath, models.RoleDeletePath}
	for _, r := range pathRoles {
		if !r.IsPathRole() {
			t.Errorf("%v: expected IsPathRole() true", r)
		}
	}
	nonPathRoles := []models.ArgumentRole{models.RoleGithubOwner, models.RoleNone}
	for _, r := range nonPathRoles {
		if r.IsPathRole() {
			t.Errorf("%v: expected IsPathRole() false", r)
		}
	}
}
