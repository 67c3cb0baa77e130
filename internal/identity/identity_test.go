package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestResolve(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		claimUserID: float64(7),
		claimEmail:  "jane@x.com",
		claimRole:   "student",
	})

	ident, err := Resolve(token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ident.ID != 7 {
		t.Errorf("ID = %d, want 7", ident.ID)
	}
	if ident.Email != "jane@x.com" {
		t.Errorf("Email = %q, want jane@x.com", ident.Email)
	}
	if ident.Role != "student" {
		t.Errorf("Role = %q, want student", ident.Role)
	}
}

func TestResolveStringSubject(t *testing.T) {
	// The relay sometimes encodes usersId as a numeric string.
	token := signedToken(t, jwt.MapClaims{
		claimUserID: "42",
		claimEmail:  "bob@x.com",
	})

	ident, err := Resolve(token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ident.ID != 42 {
		t.Errorf("ID = %d, want 42", ident.ID)
	}
}

func TestResolveEmpty(t *testing.T) {
	for _, token := range []string{"", "   \n"} {
		if _, err := Resolve(token); !errors.Is(err, ErrNoCredential) {
			t.Errorf("Resolve(%q) error = %v, want ErrNoCredential", token, err)
		}
	}
}

func TestResolveGarbage(t *testing.T) {
	if _, err := Resolve("not.a.token"); !errors.Is(err, ErrMalformedCredential) {
		t.Errorf("error = %v, want ErrMalformedCredential", err)
	}
}

func TestResolveMissingSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{claimEmail: "jane@x.com"})
	if _, err := Resolve(token); !errors.Is(err, ErrMalformedCredential) {
		t.Errorf("error = %v, want ErrMalformedCredential", err)
	}
}

func TestResolveNonNumericSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{claimUserID: "abc"})
	if _, err := Resolve(token); !errors.Is(err, ErrMalformedCredential) {
		t.Errorf("error = %v, want ErrMalformedCredential", err)
	}
}

func TestResolveFromFile(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{claimUserID: float64(3)})
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	ident, err := ResolveFromFile(path)
	if err != nil {
		t.Fatalf("ResolveFromFile() error = %v", err)
	}
	if ident.ID != 3 {
		t.Errorf("ID = %d, want 3", ident.ID)
	}
}

func TestResolveFromFileMissing(t *testing.T) {
	_, err := ResolveFromFile(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("error = %v, want ErrNoCredential", err)
	}
}
