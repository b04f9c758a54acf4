package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// JWTManager signs and validates the access/refresh credential pairs used by
// the REST API and the live channel.
type JWTManager struct {
	keys       map[string][]byte // kid -> HMAC secret
	activeKid  string            // kid used for new tokens; "" means no kid header
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Claims is the custom JWT payload.
type Claims struct {
	UserID   string `json:"user_id"` // MongoDB ObjectID hex
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Pair is an access credential bundled with the refresh credential that can
// replace it once it expires.
type Pair struct {
	Access  string
	Refresh string
}

// String renders the wire form "<access> <refresh>".
func (p Pair) String() string { return p.Access + " " + p.Refresh }

// ParseBundle splits "<access> <refresh>" (optionally prefixed by "Bearer").
// A bundle with a single token is accepted with an empty refresh half.
func ParseBundle(s string) (Pair, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "Bearer"))
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return Pair{Access: fields[0]}, nil
	case 2:
		return Pair{Access: fields[0], Refresh: fields[1]}, nil
	default:
		return Pair{}, fmt.Errorf("%w: malformed credential", apperr.ErrUnauthenticated)
	}
}

// NewJWTManager returns a manager signing with a single secret.
func NewJWTManager(secretKey string, accessTTL, refreshTTL time.Duration) *JWTManager {
	return &JWTManager{
		keys:       map[string][]byte{"": []byte(secretKey)},
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies tokens signed by any of keys, so secrets can be rotated without
// logging every client out.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, accessTTL, refreshTTL time.Duration) *JWTManager {
	m := &JWTManager{
		keys:       make(map[string][]byte, len(keys)),
		activeKid:  activeKid,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	return m
}

// GenerateToken issues a signed token of the given type.
func (m *JWTManager) GenerateToken(userID bson.ObjectID, username, typ string) (string, time.Time, error) {
	ttl := m.accessTTL
	if typ == TypeRefresh {
		ttl = m.refreshTTL
	}
	now := m.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:   userID.Hex(),
		Username: normalize.Username(username),
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID.Hex(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// IssuePair issues a fresh access/refresh pair for a user.
func (m *JWTManager) IssuePair(userID bson.ObjectID, username string) (Pair, error) {
	access, _, err := m.GenerateToken(userID, username, TypeAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, _, err := m.GenerateToken(userID, username, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// VerifyToken parses a token, checks its signature, expiry and type, and
// returns its claims.
func (m *JWTManager) VerifyToken(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("expected %s token, got %q", wantType, claims.Type)
	}
	return claims, nil
}

// Verify validates a credential bundle. The access half is tried first; when
// it fails the refresh half is tried and, on success, a rotated pair is
// returned that the caller must hand back to the client.
func (m *JWTManager) Verify(bundle string) (*Claims, *Pair, error) {
	pair, err := ParseBundle(bundle)
	if err != nil {
		return nil, nil, err
	}
	if claims, err := m.VerifyToken(pair.Access, TypeAccess); err == nil {
		return claims, nil, nil
	}
	if pair.Refresh == "" {
		return nil, nil, fmt.Errorf("%w: access credential rejected", apperr.ErrUnauthenticated)
	}
	claims, err := m.VerifyToken(pair.Refresh, TypeRefresh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: credential pair rejected", apperr.ErrUnauthenticated)
	}
	id, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad subject", apperr.ErrUnauthenticated)
	}
	rotated, err := m.IssuePair(id, claims.Username)
	if err != nil {
		return nil, nil, err
	}
	access, err := m.VerifyToken(rotated.Access, TypeAccess)
	if err != nil {
		return nil, nil, err
	}
	return access, &rotated, nil
}
