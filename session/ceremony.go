package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// Ceremony names a WebAuthn flow; each keeps its SessionData under its own prefix.
type Ceremony string

const (
	CeremonyInviteRegister Ceremony = "reg:inv" // keyed by invite token
	CeremonyAddCredential  Ceremony = "reg"     // keyed by admin id
	CeremonyLogin          Ceremony = "auth"    // keyed by a random login id
)

// Store holds WebAuthn SessionData between begin and finish. Entries are
// single use: Take removes what it returns.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store { return &Store{rdb: rdb, ttl: ttl} }

func ceremonyKey(c Ceremony, id string) string { return fmt.Sprintf("lab:webauthn:%s:%s", c, id) }

func (s *Store) Save(ctx context.Context, c Ceremony, id string, sd *webauthn.SessionData) error {
	b, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, ceremonyKey(c, id), b, s.ttl).Err()
}

// Take loads and deletes the ceremony state in one round trip.
func (s *Store) Take(ctx context.Context, c Ceremony, id string) (*webauthn.SessionData, error) {
	b, err := s.rdb.GetDel(ctx, ceremonyKey(c, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}
