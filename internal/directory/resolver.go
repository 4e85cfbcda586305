// Package directory resolves phone numbers to accounts. Local links
// live in this bank's own registry; subscriptions live in the national
// registry shared by every participating bank.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/models"
)

// ErrNotFound signals an unlinked user, an unknown phone or an
// unsubscribed number. Callers decide whether that is a 404 or an
// external counterparty.
var ErrNotFound = errors.New("directory: not found")

const subscriptionCacheTTL = 5 * time.Minute

// Resolver queries the two registries. The Redis client is optional; a
// nil cache degrades to straight database lookups.
type Resolver struct {
	local    *sql.DB
	national *sql.DB
	cache    *redis.Client
	log      *zap.Logger
}

func NewResolver(local, national *sql.DB, cache *redis.Client, log *zap.Logger) *Resolver {
	return &Resolver{local: local, national: national, cache: cache, log: log}
}

// FindLocalLink looks up the account linked to a phone number in this
// bank's own registry.
func (r *Resolver) FindLocalLink(ctx context.Context, phone string) (*models.PhoneLink, error) {
	var link models.PhoneLink
	err := r.local.QueryRowContext(ctx,
		`SELECT phone, account_number FROM phone_links WHERE phone = $1`,
		phone,
	).Scan(&link.Phone, &link.AccountNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no link for phone %s", ErrNotFound, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query phone link: %w", err)
	}
	return &link, nil
}

// FindLinkForUser returns the phone link of the user's first linked
// account. Candidate accounts are walked in account-id order so the
// tie-break is deterministic when a user owns several accounts.
func (r *Resolver) FindLinkForUser(ctx context.Context, username string) (*models.PhoneLink, error) {
	var link models.PhoneLink
	err := r.local.QueryRowContext(ctx,
		`SELECT pl.phone, pl.account_number
		   FROM users u
		   JOIN accounts a ON a.user_id = u.id
		   JOIN phone_links pl ON pl.account_number = a.number
		  WHERE u.name = $1
		  ORDER BY a.id
		  LIMIT 1`,
		username,
	).Scan(&link.Phone, &link.AccountNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no linked account for user %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user link: %w", err)
	}
	return &link, nil
}

// FindSubscription queries the national registry for the bank holding a
// phone number, read-through cached in Redis. Cache failures are logged
// and fall through to the database.
func (r *Resolver) FindSubscription(ctx context.Context, phone string) (*models.PhoneSubscription, error) {
	cacheKey := fmt.Sprintf("sinpe:subscription:%s", phone)

	if r.cache != nil {
		data, err := r.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			var sub models.PhoneSubscription
			if err := json.Unmarshal([]byte(data), &sub); err == nil {
				return &sub, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.log.Warn("subscription cache read failed", zap.String("phone", phone), zap.Error(err))
		}
	}

	var sub models.PhoneSubscription
	err := r.national.QueryRowContext(ctx,
		`SELECT sinpe_number, sinpe_bank_code, sinpe_client_name
		   FROM sinpe_subscriptions WHERE sinpe_number = $1`,
		phone,
	).Scan(&sub.Phone, &sub.BankCode, &sub.ClientName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: phone %s has no subscription", ErrNotFound, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}

	if r.cache != nil {
		if data, err := json.Marshal(&sub); err == nil {
			if err := r.cache.Set(ctx, cacheKey, data, subscriptionCacheTTL).Err(); err != nil {
				r.log.Warn("subscription cache write failed", zap.String("phone", phone), zap.Error(err))
			}
		}
	}

	return &sub, nil
}
