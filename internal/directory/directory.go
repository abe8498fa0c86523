// Package directory is the client for the external user directory, the
// authority on profiles, premium flags and privacy settings. The core
// treats a missing profile as unauthenticated.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/metrics"
)

var (
	ErrNotFound    = errors.New("profile not found")
	ErrUnavailable = errors.New("user directory unavailable")
)

// Privacy carries the per-user visibility switches the core honors.
type Privacy struct {
	Online   bool `json:"online"`
	Receipts bool `json:"receipts"`
}

// Profile is the directory's view of a user.
type Profile struct {
	UserID    uuid.UUID      `json:"user_id"`
	Gender    domain.Gender  `json:"gender"`
	Age       int            `json:"age"`
	Coords    *domain.LatLng `json:"coords,omitempty"`
	Interests []string       `json:"interests,omitempty"`
	Languages []string       `json:"languages,omitempty"`
	Ethnicity string         `json:"ethnicity,omitempty"`

	Education        domain.Education        `json:"education,omitempty"`
	FamilyPlans      domain.FamilyPlan       `json:"family_plans,omitempty"`
	Religion         domain.Religion         `json:"religion,omitempty"`
	Politics         domain.PoliticalView    `json:"politics,omitempty"`
	Drinking         domain.DrinkingHabit    `json:"drinking,omitempty"`
	Smoking          domain.SmokingHabit     `json:"smoking,omitempty"`
	Exercise         domain.ExerciseHabit    `json:"exercise,omitempty"`
	RelationshipType domain.RelationshipType `json:"relationship_type,omitempty"`

	Premium     bool               `json:"premium"`
	Privacy     Privacy            `json:"privacy"`
	Preferences domain.Preferences `json:"preferences"`
}

// Directory is what the rest of the core depends on.
type Directory interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

// Client is the HTTP implementation: resty transport, circuit breaker,
// and a small bounded retry for transient failures.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*Profile]

	retryAttempts    int
	retryMaxInterval time.Duration
}

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	RetryAttempts    int
	RetryMaxInterval time.Duration
}

func NewClient(cfg Config) *Client {
	httpc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	cb := gobreaker.NewCircuitBreaker[*Profile](gobreaker.Settings{
		Name:    "user-directory",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		http:             httpc,
		breaker:          cb,
		retryAttempts:    cfg.RetryAttempts,
		retryMaxInterval: cfg.RetryMaxInterval,
	}
}

// GetProfile fetches one profile. Transient failures are retried with
// exponential backoff (bounded by RetryAttempts and RetryMaxInterval);
// a 404 is ErrNotFound and is not retried.
func (c *Client) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	fetch := func() (*Profile, error) {
		return c.breaker.Execute(func() (*Profile, error) {
			var p Profile
			resp, err := c.http.R().
				SetContext(ctx).
				SetResult(&p).
				Get("/v1/users/" + userID.String())
			if err != nil {
				return nil, fmt.Errorf("directory request: %w", err)
			}
			switch {
			case resp.StatusCode() == http.StatusNotFound:
				return nil, backoff.Permanent(ErrNotFound)
			case resp.IsError():
				return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
			}
			return &p, nil
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.retryMaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryAttempts)), ctx)

	p, err := backoff.RetryWithData(fetch, policy)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.DirectoryRequests.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.DirectoryRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.DirectoryRequests.WithLabelValues("ok").Inc()
	return p, nil
}

// Static is an in-memory Directory for tests and local development.
type Static struct {
	Profiles map[uuid.UUID]*Profile
}

func (s *Static) GetProfile(_ context.Context, userID uuid.UUID) (*Profile, error) {
	p, ok := s.Profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}
