package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deploys-app/registry/registry/auth/cache"
)

// Delegate asks an external control plane for authorization decisions, forwarding the client's
// Authorization header untouched. Every failure mode (transport error, non-2xx, malformed body)
// reads as "not authorized": the registry fails closed.
type Delegate struct {
	client       *http.Client
	endpoint     string
	infoEndpoint string
	cache        cache.Cache
	ttl          time.Duration
	log          *logrus.Entry
}

// DelegateOptions configures a Delegate.
type DelegateOptions struct {
	// Endpoint receives authorization checks for a project and permission.
	Endpoint string

	// InfoEndpoint receives credential identification checks.
	InfoEndpoint string

	// Cache holds decisions for TTL. Required; use cache.NewInMemory for a single replica.
	Cache cache.Cache

	// TTL bounds how long a decision may be reused. The delegate is asked at most once per TTL
	// per (project, permission, credential) tuple.
	TTL time.Duration

	// Client is the HTTP client used for delegate calls. Defaults to a client with a 10s timeout.
	Client *http.Client

	Log *logrus.Entry
}

func NewDelegate(opts DelegateOptions) *Delegate {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}

	return &Delegate{
		client:       client,
		endpoint:     opts.Endpoint,
		infoEndpoint: opts.InfoEndpoint,
		cache:        opts.Cache,
		ttl:          ttl,
		log:          log,
	}
}

// cacheKey derives the cache key for a decision. The credential is hashed so raw secrets never
// land in a shared cache.
func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "auth:" + hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	OK     bool `json:"ok"`
	Result struct {
		Authorized bool `json:"authorized"`
		Project    struct {
			BillingAccount struct {
				Active bool `json:"active"`
			} `json:"billingAccount"`
		} `json:"project"`
	} `json:"result"`
}

// Authorized implements Authorizer. Access requires the delegate to confirm the permission on the
// project and the project's billing account to be active.
func (d *Delegate) Authorized(ctx context.Context, credential, project, permission string) (bool, error) {
	if credential == "" {
		return false, nil
	}

	key := cacheKey(project, permission, credential)
	if v, ok := d.cache.Get(ctx, key); ok {
		return v == "t", nil
	}

	ok, decided := d.ask(ctx, d.endpoint, credential, map[string]interface{}{
		"project":     project,
		"permissions": []string{permission},
	}, func(env *envelope) bool {
		return env.Result.Authorized && env.Result.Project.BillingAccount.Active
	})

	if decided {
		d.cache.Set(ctx, key, boolValue(ok), d.ttl)
	}
	return ok, nil
}

// Identify implements Authorizer.
func (d *Delegate) Identify(ctx context.Context, credential string) (bool, error) {
	if credential == "" {
		return false, nil
	}

	key := cacheKey("identify", credential)
	if v, ok := d.cache.Get(ctx, key); ok {
		return v == "t", nil
	}

	ok, decided := d.ask(ctx, d.infoEndpoint, credential, map[string]interface{}{}, func(env *envelope) bool {
		return true
	})

	if decided {
		d.cache.Set(ctx, key, boolValue(ok), d.ttl)
	}
	return ok, nil
}

// ask POSTs body to endpoint with the forwarded credential and reports whether the envelope is ok
// and pass accepts the result. Any failure is logged and read as false. decided reports whether
// the delegate actually answered: a transport error, non-2xx status or malformed body denies this
// request but is not a decision, so it must not be cached for the TTL.
func (d *Delegate) ask(ctx context.Context, endpoint, credential string, body map[string]interface{}, pass func(*envelope) bool) (ok, decided bool) {
	payload, err := json.Marshal(body)
	if err != nil {
		d.log.WithError(err).Error("encoding auth delegate request")
		return false, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		d.log.WithError(err).Error("building auth delegate request")
		return false, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", credential)

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.WithError(err).Warn("auth delegate unreachable")
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.log.WithField("status", resp.StatusCode).Warn("auth delegate returned non-2xx")
		return false, false
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		d.log.WithError(err).Warn("decoding auth delegate response")
		return false, false
	}
	if !env.OK {
		return false, true
	}

	return pass(&env), true
}

func boolValue(b bool) string {
	if b {
		return "t"
	}
	return "f"
}

// Challenge is the WWW-Authenticate header value for realm.
func Challenge(realm string) string {
	return fmt.Sprintf("Basic realm=%q", realm)
}
