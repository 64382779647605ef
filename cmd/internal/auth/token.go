package auth

import (
	"errors"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Identity is the verified caller propagated across HTTP and WS.
type Identity struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Verifier checks a bearer credential. It is the gateway's and the REST surface's
// only view of authentication.
type Verifier interface {
	Verify(token string, now time.Time) (Identity, error)
}

// PasetoManager verifies (and optionally issues) PASETO v4.public access tokens.
type PasetoManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	public   paseto.V4AsymmetricPublicKey
	secret   paseto.V4AsymmetricSecretKey
	canIssue bool
}

// NewPasetoManager builds a PasetoManager from cfg. A secret key enables Issue.
func NewPasetoManager(cfg Config) (*PasetoManager, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, ErrConfig
	}
	m := &PasetoManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultConfig().AccessTokenTTL
	}

	if cfg.SecretKeyHex != "" {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = secret
		m.public = secret.Public()
		m.canIssue = true
	}

	if cfg.PublicKeyHex != "" {
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.public = public
	} else if !m.canIssue {
		return nil, ErrConfig
	}

	return m, nil
}

// PublicKeyHex returns the verification key.
func (m *PasetoManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue mints an access token for userID. It fails unless a secret key was configured.
func (m *PasetoManager) Issue(userID string, now time.Time) (string, time.Time, error) {
	if !m.canIssue {
		return "", time.Time{}, errors.New("auth: issuing requires a secret key")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("auth: empty user id")
	}

	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("uid", userID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify implements Verifier.
func (m *PasetoManager) Verify(token string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	// Validate slightly in the future so a peer's clock running ahead does not fail nbf.
	validNow := now.Add(m.clockSkew)

	// Fresh parser per call so rules do not accumulate.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	// Issue never signs padded ids; a padded uid would not match stored participants.
	if err != nil || uid == "" || uid != strings.TrimSpace(uid) {
		return Identity{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Identity{
		UserID:    uid,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}

var _ Verifier = (*PasetoManager)(nil)
