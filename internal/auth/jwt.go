package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

var ErrInvalidToken = eris.New("invalid token")

// Issuer signs and checks reviewer tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, eris.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateJWT issues a token whose subject is the reviewer's id.
func (i *Issuer) GenerateJWT(reviewerID string) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub": reviewerID,
		"iat": now.Unix(),
		"exp": now.Add(i.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", eris.Wrap(err, "sign token")
	}
	return signed, nil
}

// ValidateJWT returns the reviewer id of a valid token.
func (i *Issuer) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", eris.Wrap(ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", eris.Wrap(ErrInvalidToken, "missing subject")
	}
	return sub, nil
}
