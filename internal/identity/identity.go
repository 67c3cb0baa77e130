package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claim keys used by the relay's bearer tokens.
const (
	claimUserID = "usersId"
	claimEmail  = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	claimRole   = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

var (
	// ErrNoCredential means no token is stored.
	ErrNoCredential = errors.New("no stored credential")
	// ErrMalformedCredential means the token's claims could not be parsed.
	ErrMalformedCredential = errors.New("malformed credential")
)

// Identity is the caller identity embedded in the bearer credential.
// Derived once at startup; immutable for the process lifetime.
type Identity struct {
	ID    int64
	Email string
	Role  string
}

// Resolve decodes the bearer token into an Identity. The signature is the
// relay's to verify; the client only reads the claims, so the token is
// parsed unverified. No network call is made.
func Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNoCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	id, err := subjectID(claims[claimUserID])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	email, _ := claims[claimEmail].(string)
	role, _ := claims[claimRole].(string)

	return Identity{ID: id, Email: email, Role: role}, nil
}

// ResolveFromFile reads the stored credential file and decodes it.
// A missing or empty file is ErrNoCredential.
func ResolveFromFile(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, ErrNoCredential
		}
		return Identity{}, fmt.Errorf("read credential: %w", err)
	}
	return Resolve(string(data))
}

// subjectID coerces the usersId claim, which the relay encodes either as a
// number or a numeric string.
func subjectID(v any) (int64, error) {
	switch id := v.(type) {
	case nil:
		return 0, errors.New("missing usersId claim")
	case float64:
		return int64(id), nil
	case json.Number:
		return id.Int64()
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("usersId claim %q is not numeric", id)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("usersId claim has unexpected type %T", v)
	}
}
