// Package folders implements the folder and file trees of an org, their
// per-principal placement, and public file share links.
package folders

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/integrations"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
)

// Service implements folder and file operations on behalf of a caller.
type Service struct {
	store    data.Store
	resolver *access.Resolver
	storage  integrations.ObjectStorage
	metrics  *obs.Metrics
	logger   *log.Logger
	now      func() time.Time
}

// NewService returns a Service. metrics may be nil.
func NewService(store data.Store, resolver *access.Resolver, storage integrations.ObjectStorage, metrics *obs.Metrics, logger *log.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		storage:  storage,
		metrics:  metrics,
		logger:   logger.With("component", "folders"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NodeRef names one folder or file.
type NodeRef struct {
	Kind data.NodeKind `json:"kind"`
	ID   bson.ObjectID `json:"id"`
}

// Placement says where a new node goes. Under a parent the node inherits
// every connection of the parent. At the root it is placed in Tree, and an
// agent may also attach it to one of its contacts.
type Placement struct {
	ParentID  *bson.ObjectID
	Tree      access.Tree
	ContactID bson.ObjectID
	AgentOnly bool
}

// Listing is the content of one folder in one tree.
type Listing struct {
	Folders []*data.Node `json:"folders"`
	Files   []*data.Node `json:"files"`
}

func (s *Service) cascadeFailed(op string) {
	if s.metrics != nil {
		s.metrics.CascadeFailures.WithLabelValues(op).Inc()
	}
}

func upstream(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
}

// connections computes the connections of a node created at pl.
func (s *Service) connections(ctx context.Context, c access.Caller, pl Placement) ([]data.Connection, error) {
	if pl.ParentID != nil {
		g, err := s.resolver.Node(ctx, c, data.KindFolder, *pl.ParentID, data.Editor)
		if err != nil {
			return nil, err
		}
		conns := make([]data.Connection, 0, len(g.Node.Connections))
		for _, pc := range g.Node.Connections {
			parent, paths := pc.ChildPlacement(g.Node.ID)
			conns = append(conns, data.Connection{
				Principal:   pc.Principal,
				Permission:  pc.Permission,
				ParentID:    parent,
				ParentPaths: paths,
			})
		}
		return conns, nil
	}

	p, err := s.resolver.TreePrincipal(ctx, c, pl.Tree)
	if err != nil {
		return nil, err
	}
	conns := []data.Connection{rootConnection(p, data.Editor)}
	if pl.ContactID.IsZero() {
		return conns, nil
	}
	agent, ok := c.(access.AgentCaller)
	if !ok {
		return nil, fmt.Errorf("contact %w", apperr.ErrNotFound)
	}
	contact, err := s.resolver.OwnedContact(ctx, agent, pl.ContactID)
	if err != nil {
		return nil, err
	}
	q := data.ContactPrincipal(contact.ID)
	if pl.AgentOnly {
		q = data.AgentOnlyPrincipal(contact.ID)
	}
	if q != p {
		conns = append(conns, rootConnection(q, data.Editor))
	}
	return conns, nil
}

func rootConnection(p data.Principal, perm data.Permission) data.Connection {
	return data.Connection{Principal: p, Permission: perm, ParentPaths: []bson.ObjectID{}}
}

func createdBy(c access.Caller) string {
	return access.Participant(c)
}

// CreateFolder creates a folder at pl.
func (s *Service) CreateFolder(ctx context.Context, c access.Caller, name string, pl Placement) (*data.Node, error) {
	name = strings.TrimSpace(name)
	var fe apperr.FieldErrors
	fe.Require("name", name)
	if err := fe.Err(); err != nil {
		return nil, err
	}
	conns, err := s.connections(ctx, c, pl)
	if err != nil {
		return nil, err
	}
	return s.store.InsertNode(ctx, &data.Node{
		Kind:        data.KindFolder,
		OrgID:       access.Org(c),
		Name:        name,
		CreatedBy:   createdBy(c),
		Connections: conns,
	})
}

// RequestUpload returns a signed URL the client uploads a new file to. The
// returned key is then passed to CreateFile.
func (s *Service) RequestUpload(ctx context.Context, c access.Caller, name, contentType string) (integrations.Upload, error) {
	var fe apperr.FieldErrors
	fe.Require("name", name)
	fe.Require("contentType", contentType)
	if err := fe.Err(); err != nil {
		return integrations.Upload{}, err
	}
	if _, ok := c.(access.PublicLinkCaller); ok {
		return integrations.Upload{}, fmt.Errorf("org %w", apperr.ErrNotFound)
	}
	up, err := s.storage.SignedUploadURL(ctx, access.Org(c).Hex(), name, contentType)
	if err != nil {
		return integrations.Upload{}, upstream(err)
	}
	return up, nil
}

// FileInput describes an uploaded object to register as a file.
type FileInput struct {
	Key         string
	Name        string
	ContentType string
	Size        int64
}

// CreateFile registers an uploaded object as a file at pl. The object key
// must belong to the caller's org.
func (s *Service) CreateFile(ctx context.Context, c access.Caller, in FileInput, pl Placement) (*data.Node, error) {
	in.Name = strings.TrimSpace(in.Name)
	var fe apperr.FieldErrors
	fe.Require("key", in.Key)
	fe.Require("name", in.Name)
	if in.Key != "" && !strings.HasPrefix(in.Key, access.Org(c).Hex()+"/") {
		fe.Add("key", "does not belong to this org")
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	conns, err := s.connections(ctx, c, pl)
	if err != nil {
		return nil, err
	}
	return s.store.InsertNode(ctx, &data.Node{
		Kind:        data.KindFile,
		OrgID:       access.Org(c),
		Name:        in.Name,
		CreatedBy:   createdBy(c),
		Connections: conns,
		Key:         in.Key,
		ContentType: in.ContentType,
		Size:        in.Size,
	})
}

// List returns the folders and files directly under parentID in tree; a nil
// parentID lists the tree's roots.
func (s *Service) List(ctx context.Context, c access.Caller, tree access.Tree, parentID *bson.ObjectID) (*Listing, error) {
	p, err := s.resolver.TreePrincipal(ctx, c, tree)
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		if _, err := s.resolver.Node(ctx, c, data.KindFolder, *parentID, data.Viewer); err != nil {
			return nil, err
		}
	}
	org := access.Org(c)
	folders, err := s.store.ListChildren(ctx, data.KindFolder, org, p, parentID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListChildren(ctx, data.KindFile, org, p, parentID)
	if err != nil {
		return nil, err
	}
	return &Listing{Folders: folders, Files: files}, nil
}

// Rename renames a folder or file.
func (s *Service) Rename(ctx context.Context, c access.Caller, ref NodeRef, name string) error {
	name = strings.TrimSpace(name)
	var fe apperr.FieldErrors
	fe.Require("name", name)
	if err := fe.Err(); err != nil {
		return err
	}
	if _, err := s.resolver.Node(ctx, c, ref.Kind, ref.ID, data.Editor); err != nil {
		return err
	}
	return s.store.RenameNode(ctx, ref.Kind, ref.ID, name, s.now())
}

// Download returns a signed download URL for a file.
func (s *Service) Download(ctx context.Context, c access.Caller, fileID bson.ObjectID) (string, error) {
	g, err := s.resolver.Node(ctx, c, data.KindFile, fileID, data.Viewer)
	if err != nil {
		return "", err
	}
	u, err := s.storage.SignedDownloadURL(ctx, g.Node.Key)
	if err != nil {
		return "", upstream(err)
	}
	return u, nil
}

// DeleteFile deletes a file record and its stored object. A failure to
// delete the object is logged only.
func (s *Service) DeleteFile(ctx context.Context, c access.Caller, fileID bson.ObjectID) error {
	g, err := s.resolver.Node(ctx, c, data.KindFile, fileID, data.Editor)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNode(ctx, data.KindFile, fileID); err != nil {
		return err
	}
	s.deleteObjects(ctx, []string{g.Node.Key})
	return nil
}

func (s *Service) deleteObjects(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.storage.DeleteObjects(ctx, keys); err != nil {
		s.logger.Error("deleting stored objects failed", "count", len(keys), "err", err)
	}
}

// subtree returns every node below folder in any of its trees.
func (s *Service) subtree(ctx context.Context, folder *data.Node) ([]*data.Node, error) {
	seen := map[bson.ObjectID]bool{folder.ID: true}
	var out []*data.Node
	for _, conn := range folder.Connections {
		for _, kind := range []data.NodeKind{data.KindFolder, data.KindFile} {
			nodes, err := s.store.ListDescendants(ctx, kind, folder.OrgID, conn.Principal, folder.ID)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				if !seen[n.ID] {
					seen[n.ID] = true
					out = append(out, n)
				}
			}
		}
	}
	return out, nil
}

// DeleteFolder deletes a folder with everything below it. The caller must
// be an editor of every node involved, otherwise nothing is deleted. The
// records are then deleted one by one; failures leave the rest in place and
// are reported as a partial failure.
func (s *Service) DeleteFolder(ctx context.Context, c access.Caller, folderID bson.ObjectID) error {
	g, err := s.resolver.Node(ctx, c, data.KindFolder, folderID, data.Editor)
	if err != nil {
		return err
	}
	below, err := s.subtree(ctx, g.Node)
	if err != nil {
		return err
	}
	for _, n := range below {
		if _, err := s.resolver.Grant(ctx, c, n, data.Editor); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("folder %w: %s %s is not editable", apperr.ErrNotFound, n.Kind, n.ID.Hex())
			}
			return err
		}
	}

	// objects go only once their record is gone
	var keys []string
	failed := 0
	for _, n := range append(below, g.Node) {
		if err := s.store.DeleteNode(ctx, n.Kind, n.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			failed++
			s.logger.Error("deleting node failed", "kind", n.Kind, "id", n.ID.Hex(), "err", err)
			continue
		}
		if n.Kind == data.KindFile && n.Key != "" {
			keys = append(keys, n.Key)
		}
	}
	s.deleteObjects(ctx, keys)
	if failed > 0 {
		s.cascadeFailed("delete_folder")
		return fmt.Errorf("%w: %d of %d nodes not deleted", apperr.ErrPartialFailure, failed, len(below)+1)
	}
	return nil
}

// objectKey returns a fresh storage key for a copy of name in org.
func objectKey(org bson.ObjectID, name string) string {
	return path.Join(org.Hex(), bson.NewObjectID().Hex(), path.Base(name))
}
