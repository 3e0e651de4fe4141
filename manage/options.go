// Package manage issues authorization codes and tokens against a
// CredentialStore.
package manage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/generates"
)

// maxTokenTries attempts at persisting a freshly generated value before a
// collision is reported as an error
const maxTokenTries = 3

type options struct {
	clock        oauth2.Clock
	accessGen    oauth2.AccessGenerate
	authorizeGen oauth2.AuthorizeGenerate
	onReuse      ReuseHandler
}

// Option configures an issuer.
type Option func(*options)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c oauth2.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithAccessGenerate sets the access and refresh token generator.
func WithAccessGenerate(g oauth2.AccessGenerate) Option {
	return func(o *options) { o.accessGen = g }
}

// WithAuthorizeGenerate sets the authorization code generator.
func WithAuthorizeGenerate(g oauth2.AuthorizeGenerate) Option {
	return func(o *options) { o.authorizeGen = g }
}

// WithReuseHandler registers a callback for replayed codes and refresh
// tokens.
func WithReuseHandler(h ReuseHandler) Option {
	return func(o *options) { o.onReuse = h }
}

func newOptions(opts []Option) options {
	o := options{
		clock:        oauth2.SystemClock,
		accessGen:    generates.NewAccessGenerate(),
		authorizeGen: generates.NewAuthorizeGenerate(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// retryOnCollision runs op until it stops failing with
// errors.ErrDuplicateToken. Any other error ends the loop.
func retryOnCollision[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, errors.ErrDuplicateToken) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(maxTokenTries),
		backoff.WithMaxElapsedTime(5*time.Second),
	)
}
