// Package deviceauth implements the RFC 8628 device authorization grant: a
// device obtains a device_code/user_code pair, a human approves or denies the
// user code from an authenticated browser, and the device polls the token
// endpoint until it reaches a terminal answer.
//
// All transitions for one device code execute under a keyed lock plus a
// conditional store update, so concurrent approve/deny serialize and the
// loser observes the already-terminal state.
package deviceauth

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/loomhost/identity/internal/platform/errors"
	"github.com/loomhost/identity/internal/platform/keyed"
	"github.com/loomhost/identity/internal/storage"
)

const (
	// DefaultExpiresIn bounds the life of a device_code/user_code pair.
	DefaultExpiresIn = 10 * time.Minute

	// DefaultPollInterval is the minimum gap between polls for one device
	// code before slow_down applies.
	DefaultPollInterval = 5 * time.Second

	// userCodeRetries bounds collision retries against in-flight codes.
	userCodeRetries = 5
)

// PollOutcome is the terminal-or-not answer to one token poll, named with
// the RFC 8628 error vocabulary so HTTP mapping is 1:1.
type PollOutcome string

const (
	OutcomePending      PollOutcome = "authorization_pending"
	OutcomeSlowDown     PollOutcome = "slow_down"
	OutcomeAccessDenied PollOutcome = "access_denied"
	OutcomeExpiredToken PollOutcome = "expired_token"
	OutcomeToken        PollOutcome = "token"
)

// PollResult carries the outcome of one poll. Token is set only for
// OutcomeToken, and only on the first successful poll.
type PollResult struct {
	Outcome  PollOutcome
	Token    string
	Interval int
}

// Grant is what a device receives from Initiate.
type Grant struct {
	DeviceCode string
	UserCode   string
	ExpiresIn  int
	Interval   int
}

// Coordinator owns the device authorization state machine.
type Coordinator struct {
	store    storage.DeviceAuthorizationStore
	signer   *Signer
	locks    *keyed.Mutex
	clock    func() time.Time
	lifetime time.Duration
	interval time.Duration
}

// NewCoordinator builds a coordinator over the given store. signer may be
// nil, in which case result tokens are opaque.
func NewCoordinator(store storage.DeviceAuthorizationStore, signer *Signer) *Coordinator {
	return &Coordinator{
		store:    store,
		signer:   signer,
		locks:    keyed.NewMutex(),
		clock:    time.Now,
		lifetime: DefaultExpiresIn,
		interval: DefaultPollInterval,
	}
}

// NewCoordinatorFromConfig builds a coordinator with configured code
// lifetime and poll interval.
func NewCoordinatorFromConfig(store storage.DeviceAuthorizationStore, signer *Signer, cfg Config) *Coordinator {
	c := NewCoordinator(store, signer)
	if cfg.CodeTTL > 0 {
		c.lifetime = cfg.CodeTTL
	}
	if cfg.PollInterval > 0 {
		c.interval = cfg.PollInterval
	}
	return c
}

// Initiate opens a new device grant for a client and returns the code pair
// the device shows to its user.
func (c *Coordinator) Initiate(ctx context.Context, clientID string) (Grant, error) {
	if clientID == "" {
		return Grant{}, apperrors.New(apperrors.CodeDeviceEmptyClientID, "client id is required")
	}

	deviceCode, err := newDeviceCode()
	if err != nil {
		return Grant{}, err
	}

	now := c.clock().UTC()
	record := storage.DeviceAuthorization{
		DeviceCode:          deviceCode,
		ClientID:            clientID,
		Status:              storage.DeviceStatusPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(c.lifetime),
		PollIntervalSeconds: int(c.interval / time.Second),
	}

	// User codes are short; retry the rare collision with a live grant.
	for attempt := 0; ; attempt++ {
		userCode, err := newUserCode()
		if err != nil {
			return Grant{}, err
		}
		inUse, err := c.store.UserCodeInUse(ctx, userCode)
		if err != nil {
			return Grant{}, err
		}
		if !inUse {
			record.UserCode = userCode
			break
		}
		if attempt >= userCodeRetries {
			return Grant{}, errors.New("exhausted user code candidates")
		}
	}

	if err := c.store.PutDeviceAuthorization(ctx, record); err != nil {
		return Grant{}, err
	}
	return Grant{
		DeviceCode: record.DeviceCode,
		UserCode:   record.UserCode,
		ExpiresIn:  int(c.lifetime / time.Second),
		Interval:   record.PollIntervalSeconds,
	}, nil
}

// LookupByUserCode resolves a user code for the approval page. A code that
// was never issued reports not found; codes that are expired, denied, or
// already used all surface the same "no longer usable" error so the page
// leaks nothing about how a once-valid code was decided.
func (c *Coordinator) LookupByUserCode(ctx context.Context, userCode string) (storage.DeviceAuthorization, error) {
	record, err := c.store.GetDeviceAuthorizationByUserCode(ctx, NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.DeviceAuthorization{}, apperrors.New(apperrors.CodeNotFound, "unknown user code")
		}
		return storage.DeviceAuthorization{}, err
	}
	switch {
	case record.Status == storage.DeviceStatusPending && !record.ExpiresAt.After(c.clock().UTC()):
		return storage.DeviceAuthorization{}, unusableUserCode()
	case record.Status == storage.DeviceStatusDenied,
		record.Status == storage.DeviceStatusExpired,
		record.Status == storage.DeviceStatusApproved && record.Consumed:
		return storage.DeviceAuthorization{}, unusableUserCode()
	}
	return record, nil
}

// Approve moves a pending grant to approved and stamps the result token the
// device will receive on its next poll.
func (c *Coordinator) Approve(ctx context.Context, userCode, approverUserID string) error {
	if approverUserID == "" {
		return apperrors.New(apperrors.CodeApproverUnauthorized, "approver is required")
	}
	return c.transitionByUserCode(ctx, userCode, storage.DeviceStatusApproved, approverUserID)
}

// Deny moves a pending grant to denied.
func (c *Coordinator) Deny(ctx context.Context, userCode string) error {
	return c.transitionByUserCode(ctx, userCode, storage.DeviceStatusDenied, "")
}

func (c *Coordinator) transitionByUserCode(ctx context.Context, userCode string, to storage.DeviceStatus, approverUserID string) error {
	record, err := c.store.GetDeviceAuthorizationByUserCode(ctx, NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "unknown user code")
		}
		return err
	}

	unlock := c.locks.Lock(record.DeviceCode)
	defer unlock()

	// Terminal states never revert, so a pre-lock read is authoritative.
	if record.Status.Terminal() {
		return apperrors.New(apperrors.CodeDeviceStateTerminal, "grant already decided")
	}

	now := c.clock().UTC()
	if record.Status == storage.DeviceStatusPending && !record.ExpiresAt.After(now) {
		_, err := c.store.TransitionDeviceAuthorization(ctx, record.DeviceCode,
			storage.DeviceStatusPending, storage.DeviceStatusExpired, "", "")
		if err != nil {
			return err
		}
		return apperrors.New(apperrors.CodeDeviceCodeExpired, "user code expired")
	}

	resultToken := ""
	if to == storage.DeviceStatusApproved {
		resultToken, err = c.signer.MintResultToken(approverUserID, record.ClientID)
		if err != nil {
			return err
		}
	}

	moved, err := c.store.TransitionDeviceAuthorization(ctx, record.DeviceCode,
		storage.DeviceStatusPending, to, resultToken, approverUserID)
	if err != nil {
		return err
	}
	if !moved {
		return apperrors.New(apperrors.CodeDeviceStateTerminal, "grant already decided")
	}
	return nil
}

// Poll answers one token poll from the device. The first poll after approval
// returns the result token and consumes it; every later poll, and any poll
// with an unknown or mismatched code, maps to expired_token.
func (c *Coordinator) Poll(ctx context.Context, deviceCode, clientID string) (PollResult, error) {
	unlock := c.locks.Lock(deviceCode)
	defer unlock()

	interval := int(c.interval / time.Second)
	record, err := c.store.GetDeviceAuthorization(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return PollResult{Outcome: OutcomeExpiredToken, Interval: interval}, nil
		}
		return PollResult{}, err
	}
	interval = record.PollIntervalSeconds
	if record.ClientID != clientID {
		return PollResult{Outcome: OutcomeExpiredToken, Interval: interval}, nil
	}

	now := c.clock().UTC()
	switch record.Status {
	case storage.DeviceStatusPending:
		if !record.ExpiresAt.After(now) {
			if _, err := c.store.TransitionDeviceAuthorization(ctx, deviceCode,
				storage.DeviceStatusPending, storage.DeviceStatusExpired, "", ""); err != nil {
				return PollResult{}, err
			}
			return PollResult{Outcome: OutcomeExpiredToken, Interval: interval}, nil
		}
		// A poll inside the interval is a violation but does not move
		// lastPolledAt, so the penalty never compounds.
		if record.LastPolledAt != nil && now.Sub(*record.LastPolledAt) < time.Duration(interval)*time.Second {
			return PollResult{Outcome: OutcomeSlowDown, Interval: interval}, nil
		}
		if err := c.store.MarkDevicePolled(ctx, deviceCode, now); err != nil {
			return PollResult{}, err
		}
		return PollResult{Outcome: OutcomePending, Interval: interval}, nil

	case storage.DeviceStatusDenied:
		return PollResult{Outcome: OutcomeAccessDenied, Interval: interval}, nil

	case storage.DeviceStatusApproved:
		// The device code lifetime bounds the whole grant: an approved
		// token never polled before expiry is gone.
		if !record.ExpiresAt.After(now) {
			return PollResult{Outcome: OutcomeExpiredToken, Interval: interval}, nil
		}
		consumed, err := c.store.ConsumeDeviceToken(ctx, deviceCode)
		if err != nil {
			return PollResult{}, err
		}
		if !consumed {
			return PollResult{Outcome: OutcomeExpiredToken, Interval: interval}, nil
		}
		return PollResult{Outcome: OutcomeToken, Token: record.ResultToken, Interval: interval}, nil

	default:
		return PollResult{Outcome: OutcomeExpiredToken, Interval: interval}, nil
	}
}

// ExpireOverdue sweeps pending grants past their expiry. It backs the
// periodic cleanup loop.
func (c *Coordinator) ExpireOverdue(ctx context.Context) (int64, error) {
	return c.store.ExpireOverdueDeviceAuthorizations(ctx, c.clock().UTC())
}

func unusableUserCode() error {
	return apperrors.New(apperrors.CodeDeviceCodeExpired, "code is expired or already used")
}
