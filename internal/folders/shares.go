package folders

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/ids"
)

// CreateFileShare creates a codeword-protected public link to a file the
// agent can view.
func (s *Service) CreateFileShare(ctx context.Context, agent access.AgentCaller, fileID bson.ObjectID, codeword string) (*data.FileShare, error) {
	if strings.TrimSpace(codeword) == "" {
		return nil, apperr.FieldErrors{{Field: "codeword", Msg: "is required"}}
	}
	if _, err := s.resolver.Node(ctx, agent, data.KindFile, fileID, data.Viewer); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(codeword)
	if err != nil {
		return nil, err
	}
	return s.store.CreateFileShare(ctx, &data.FileShare{
		OrgID:    agent.Profile.OrgID,
		AgentID:  agent.Profile.ID,
		FileID:   fileID,
		Token:    ids.ShareToken(),
		Codeword: hash,
	})
}

// openShare resolves a share link into a caller limited to its file. A wrong
// codeword looks like a missing link.
func (s *Service) openShare(ctx context.Context, token, codeword string) (*access.Grant, error) {
	share, err := s.store.GetFileShareByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(share.Codeword, codeword); err != nil {
		return nil, fmt.Errorf("share %w", apperr.ErrNotFound)
	}
	return s.resolver.Node(ctx, access.PublicLinkCaller{Share: share}, data.KindFile, share.FileID, data.Viewer)
}

// OpenFileShare returns the shared file and a download URL for it.
func (s *Service) OpenFileShare(ctx context.Context, token, codeword string) (*data.Node, string, error) {
	g, err := s.openShare(ctx, token, codeword)
	if err != nil {
		return nil, "", err
	}
	u, err := s.storage.SignedDownloadURL(ctx, g.Node.Key)
	if err != nil {
		return nil, "", upstream(err)
	}
	return g.Node, u, nil
}

// CopyFileShare copies the shared file into the agent's org at pl. The
// stored object is duplicated so the copy outlives the original.
func (s *Service) CopyFileShare(ctx context.Context, token, codeword string, agent access.AgentCaller, pl Placement) (*data.Node, error) {
	g, err := s.openShare(ctx, token, codeword)
	if err != nil {
		return nil, err
	}
	conns, err := s.connections(ctx, agent, pl)
	if err != nil {
		return nil, err
	}
	src := g.Node
	key := objectKey(agent.Profile.OrgID, src.Name)
	if err := s.storage.CopyObject(ctx, src.Key, key); err != nil {
		return nil, upstream(err)
	}
	return s.store.InsertNode(ctx, &data.Node{
		Kind:        data.KindFile,
		OrgID:       agent.Profile.OrgID,
		Name:        src.Name,
		CreatedBy:   agent.User.Username,
		Connections: conns,
		Key:         key,
		ContentType: src.ContentType,
		Size:        src.Size,
	})
}
