package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

const (
	// tokenSafetyMargin is subtracted from every token lifetime
	tokenSafetyMargin = 60 * time.Second
)

type cachedToken struct {
	token     models.TokenResponse
	expiresAt time.Time
}

// TokenCache holds one bank token per bank code. Expired entries are
// evicted when read.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{
		tokens: make(map[string]cachedToken),
		now:    time.Now,
	}
}

// Get returns the cached token for bank if it has not expired yet
func (c *TokenCache) Get(bank string) (models.TokenResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tokens[bank]
	if !ok {
		return models.TokenResponse{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.tokens, bank)
		return models.TokenResponse{}, false
	}
	return entry.token, true
}

// Set stores a token. A token that lives 60 seconds or less, zero and
// negative lifetimes included, is already expired once stored.
func (c *TokenCache) Set(bank string, token models.TokenResponse) {
	expiresAt := c.now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenSafetyMargin)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[bank] = cachedToken{token: token, expiresAt: expiresAt}
}

func (c *TokenCache) Clear(bank string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, bank)
}

func (c *TokenCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]cachedToken)
}

// TokenProvider hands out bank tokens, refreshing them through the gateway
// on a cache miss. Concurrent refreshes of one bank share a single call.
type TokenProvider struct {
	cache    *TokenCache
	gateways map[string]apphttp.Gateway
	timeout  time.Duration
	group    singleflight.Group
}

func NewTokenProvider(cache *TokenCache, gateways map[string]apphttp.Gateway, timeout time.Duration) *TokenProvider {
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	return &TokenProvider{
		cache:    cache,
		gateways: gateways,
		timeout:  timeout,
	}
}

// Token returns a usable token for bank. forceRefresh skips the cache.
func (p *TokenProvider) Token(ctx context.Context, bank string, forceRefresh bool) (*models.TokenResponse, error) {
	gateway, ok := p.gateways[bank]
	if !ok {
		return nil, apphttp.NewConfigMissing(bank)
	}

	if !forceRefresh {
		if token, ok := p.cache.Get(bank); ok {
			return &token, nil
		}
	}

	key := bank
	if forceRefresh {
		key += "|refresh"
	}
	ch := p.group.DoChan(key, func() (any, error) {
		if !forceRefresh {
			// A flight that just finished may have filled the cache
			if token, ok := p.cache.Get(bank); ok {
				return &token, nil
			}
		}

		// Shared by every waiter, so it must not die with the first caller
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		token, err := gateway.GetToken(fetchCtx)
		if err != nil {
			return nil, err
		}
		p.cache.Set(bank, *token)
		log.Debug().
			Str("bank", bank).
			Str("token", utils.Mask(token.AccessToken)).
			Int("expires_in", token.ExpiresIn).
			Msg("bank token refreshed")
		return token, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to get token for %s: %w", bank, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*models.TokenResponse)
		return &token, nil
	}
}

// Invalidate drops the cached token of bank
func (p *TokenProvider) Invalidate(bank string) {
	p.cache.Clear(bank)
}
