// Package orgs manages orgs and the agent profiles that make users members
// of them.
package orgs

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
)

// Service implements org and membership operations.
type Service struct {
	store  data.Store
	logger *log.Logger
}

// NewService returns a Service.
func NewService(store data.Store, logger *log.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "orgs")}
}

// CreateOrg creates an org owned by owner together with the owner's agent
// profile.
func (s *Service) CreateOrg(ctx context.Context, name, owner string) (*data.Org, *data.AgentProfile, error) {
	name = strings.TrimSpace(name)
	var fe apperr.FieldErrors
	fe.Require("name", name)
	if err := fe.Err(); err != nil {
		return nil, nil, err
	}
	user, err := s.store.GetUserByUsername(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	org, err := s.store.CreateOrg(ctx, &data.Org{Name: name, Owner: user.Username})
	if err != nil {
		return nil, nil, err
	}
	profile, err := s.store.CreateAgentProfile(ctx, &data.AgentProfile{
		OrgID:    org.ID,
		Username: user.Username,
		Role:     data.RoleOwner,
	})
	if err != nil {
		s.logger.Error("owner profile not created", "org", org.ID.Hex(), "err", err)
		return org, nil, fmt.Errorf("%w: org created without owner profile: %v", apperr.ErrPartialFailure, err)
	}
	s.logger.Info("org created", "org", org.ID.Hex(), "owner", user.Username)
	return org, profile, nil
}

// AddAgent makes username an agent of the caller's org. The caller must be
// an admin or the owner and cannot grant more than its own role. Owner is
// never granted.
func (s *Service) AddAgent(ctx context.Context, caller access.AgentCaller, username string, role data.Role) (*data.AgentProfile, error) {
	if !caller.Profile.Role.AtLeast(data.RoleAdmin) {
		return nil, fmt.Errorf("org %w", apperr.ErrNotFound)
	}
	if role != data.RoleAdmin && role != data.RoleAgent {
		return nil, apperr.FieldErrors{{Field: "role", Msg: "must be admin or agent"}}
	}
	if role < caller.Profile.Role {
		return nil, apperr.FieldErrors{{Field: "role", Msg: "exceeds your own role"}}
	}
	user, err := s.store.GetUserByUsername(ctx, normalize.Username(username))
	if err != nil {
		return nil, err
	}
	return s.store.CreateAgentProfile(ctx, &data.AgentProfile{
		OrgID:    caller.Profile.OrgID,
		Username: user.Username,
		Role:     role,
	})
}

// ListAgents returns the agents of the caller's org.
func (s *Service) ListAgents(ctx context.Context, caller access.AgentCaller) ([]*data.AgentProfile, error) {
	return s.store.ListAgentProfiles(ctx, caller.Profile.OrgID)
}
