package organization

import (
	"context"
	"fmt"
	"strings"

	"cascade-payroll/pkg/db/option"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type IdentityReason string

const (
	ReasonDatabaseDisabled     IdentityReason = "database-disabled"
	ReasonIdentityRequired     IdentityReason = "identity-required"
	ReasonOrganizationNotFound IdentityReason = "organization-not-found"
	ReasonEmployeeNotFound     IdentityReason = "employee-not-found"
)

type IdentityError struct {
	Reason IdentityReason
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity resolution failed: %s", e.Reason)
}

// Graceful reports whether a caller may degrade to an empty result instead of
// surfacing the error. Read paths treat these reasons as "nothing to show
// yet"; mutations always propagate them.
func (e *IdentityError) Graceful() bool {
	switch e.Reason {
	case ReasonDatabaseDisabled, ReasonIdentityRequired,
		ReasonOrganizationNotFound, ReasonEmployeeNotFound:
		return true
	default:
		return false
	}
}

// Identity carries the normalized caller credentials. PersistedOrgID is the
// organization the client last worked in, used only to disambiguate when both
// wallet and email are present.
type Identity struct {
	Email          string
	Wallet         string
	PersistedOrgID string
}

func (id Identity) normalized() Identity {
	return Identity{
		Email:          strings.ToLower(strings.TrimSpace(id.Email)),
		Wallet:         strings.TrimSpace(id.Wallet),
		PersistedOrgID: strings.TrimSpace(id.PersistedOrgID),
	}
}

type Context struct {
	OrganizationID string
	AccountState   AccountState
	PrimaryWallet  string
}

// ResolveContext maps a caller identity to its organization. Wallets are
// matched before emails because a user may belong to several organizations
// under the same email.
func (s *Service) ResolveContext(ctx context.Context, identity Identity) (*Context, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	if !s.databaseEnabled {
		return nil, &IdentityError{Reason: ReasonDatabaseDisabled}
	}

	identity = identity.normalized()
	if identity.Email == "" && identity.Wallet == "" {
		return nil, &IdentityError{Reason: ReasonIdentityRequired}
	}

	resolved, err := s.resolveByStrategies(ctx, identity)
	if err != nil {
		zap.L().With(opts...).Warn("failed to resolve organization context", zap.Error(err))
		return nil, err
	}

	return resolved, nil
}

func (s *Service) resolveByStrategies(ctx context.Context, identity Identity) (*Context, error) {
	// Strategy 1: wallet or email match constrained to the persisted
	// organization (most specific).
	if identity.Wallet != "" && identity.Email != "" && identity.PersistedOrgID != "" {
		var rows []*OrganizationUser
		if err := s.db.WithContext(ctx).
			Where("wallet_address = ? OR email = ?", identity.Wallet, identity.Email).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.OrganizationID == identity.PersistedOrgID {
				return s.contextFor(ctx, row.OrganizationID)
			}
		}
	}

	// Strategy 2: wallet only. Wallets are more reliable than emails.
	if identity.Wallet != "" {
		member, err := s.users.FindOne(ctx, &OrganizationUser{WalletAddress: identity.Wallet}, option.WithLimit(1))
		if err != nil {
			return nil, err
		}
		if member != nil {
			return s.contextFor(ctx, member.OrganizationID)
		}
	}

	// Strategy 3: email only (least reliable).
	if identity.Email != "" {
		member, err := s.users.FindOne(ctx, &OrganizationUser{Email: identity.Email}, option.WithLimit(1))
		if err != nil {
			return nil, err
		}
		if member != nil {
			return s.contextFor(ctx, member.OrganizationID)
		}
	}

	return nil, &IdentityError{Reason: ReasonOrganizationNotFound}
}

func (s *Service) contextFor(ctx context.Context, organizationID string) (*Context, error) {
	org, err := s.orgs.FindOne(ctx, &Organization{ID: organizationID})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, &IdentityError{Reason: ReasonOrganizationNotFound}
	}

	return &Context{
		OrganizationID: org.ID,
		AccountState:   org.AccountState,
		PrimaryWallet:  org.PrimaryWallet,
	}, nil
}

// ResolveMemberRole resolves the caller's role inside an already-resolved
// organization, for callers that need to distinguish employer and employee
// views.
func (s *Service) ResolveMemberRole(ctx context.Context, organizationID string, identity Identity) (Role, error) {
	identity = identity.normalized()

	if identity.Wallet != "" {
		member, err := s.users.FindOne(ctx, &OrganizationUser{OrganizationID: organizationID, WalletAddress: identity.Wallet})
		if err != nil {
			return "", err
		}
		if member != nil {
			return member.Role, nil
		}
	}

	if identity.Email != "" {
		member, err := s.users.FindOne(ctx, &OrganizationUser{OrganizationID: organizationID, Email: identity.Email})
		if err != nil {
			return "", err
		}
		if member != nil {
			return member.Role, nil
		}
	}

	return "", &IdentityError{Reason: ReasonEmployeeNotFound}
}
