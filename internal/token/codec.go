package token

import (
	"errors"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Version is pinned; tokens minted by older deployments are rejected
// rather than interpreted.
const Version = 1

var (
	ErrInvalid = errors.New("invalid_token")
	ErrExpired = errors.New("expired_token")
)

var (
	nonceEntropy   = ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)
	nonceEntropyMu sync.Mutex
)

func newNonce(now time.Time) string {
	nonceEntropyMu.Lock()
	defer nonceEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), nonceEntropy).String()
}

// Claims is the canonical field tuple covered by the token MAC.
type Claims struct {
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Nonce      string `json:"nonce"`
	Version    int    `json:"ver"`
	jwt.RegisteredClaims
}

// Codec mints and verifies session tokens. It holds no storage; both
// operations are pure functions of the secret and their input.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the codec's time source. Test hook.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

func (c *Codec) Mint(roomID, playerID, playerName string) (string, error) {
	now := c.now()
	claims := Claims{
		RoomID:     roomID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Nonce:      newNonce(now),
		Version:    Version,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify recomputes the MAC over the decoded fields and checks expiry.
// Malformed input of any shape yields ErrInvalid, never a panic.
func (c *Codec) Verify(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		// Strict base64 so a token differing in any byte, including
		// non-canonical trailing bits, never verifies.
		jwt.WithStrictDecoding(),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if claims.Version != Version {
		return nil, ErrInvalid
	}
	if claims.RoomID == "" || claims.PlayerID == "" {
		return nil, ErrInvalid
	}
	return &claims, nil
}
