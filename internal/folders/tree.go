package folders

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

type moveItem struct {
	node *data.Node
	conn data.Connection
}

// Move re-parents nodes in one tree under targetID, or to the tree's root
// when targetID is nil. Every descendant in the same tree keeps its position
// relative to the moved node. Other trees the nodes appear in are left
// alone. All permissions are checked before anything is written.
func (s *Service) Move(ctx context.Context, c access.Caller, tree access.Tree, refs []NodeRef, targetID *bson.ObjectID) error {
	if len(refs) == 0 {
		return apperr.FieldErrors{{Field: "items", Msg: "is required"}}
	}
	p, err := s.resolver.TreePrincipal(ctx, c, tree)
	if err != nil {
		return err
	}

	var (
		newParent *bson.ObjectID
		newPaths  = []bson.ObjectID{}
		targetRef data.Connection
	)
	if targetID != nil {
		g, err := s.resolver.Node(ctx, c, data.KindFolder, *targetID, data.Editor)
		if err != nil {
			return err
		}
		tc, ok := g.Node.Connection(p)
		if !ok {
			return fmt.Errorf("folder %w", apperr.ErrNotFound)
		}
		targetRef = tc
		newParent, newPaths = tc.ChildPlacement(g.Node.ID)
	}

	items := make([]moveItem, 0, len(refs))
	for _, ref := range refs {
		g, err := s.resolver.Node(ctx, c, ref.Kind, ref.ID, data.Editor)
		if err != nil {
			return err
		}
		conn, ok := g.Node.Connection(p)
		if !ok {
			return fmt.Errorf("%s %w", ref.Kind, apperr.ErrNotFound)
		}
		if ref.Kind == data.KindFolder && targetID != nil && (*targetID == ref.ID || targetRef.HasAncestor(ref.ID)) {
			return fmt.Errorf("%w: cannot move a folder into itself", apperr.ErrInvalidInput)
		}
		items = append(items, moveItem{node: g.Node, conn: conn})
	}

	failed := 0
	for _, it := range items {
		moved := it.conn
		moved.ParentID = newParent
		moved.ParentPaths = newPaths
		if err := s.store.PutConnection(ctx, it.node.Kind, it.node.ID, moved); err != nil {
			failed++
			s.logger.Error("moving node failed", "id", it.node.ID.Hex(), "err", err)
			continue
		}
		if it.node.Kind == data.KindFolder {
			failed += s.rebaseDescendants(ctx, it.node, p, newPaths)
		}
	}
	if failed > 0 {
		s.cascadeFailed("move")
		return fmt.Errorf("%w: %d nodes not moved", apperr.ErrPartialFailure, failed)
	}
	return nil
}

// rebaseDescendants rewrites the chains of folder's descendants under p
// after folder's own chain became newPaths. It returns the failure count.
func (s *Service) rebaseDescendants(ctx context.Context, folder *data.Node, p data.Principal, newPaths []bson.ObjectID) int {
	failed := 0
	for _, kind := range []data.NodeKind{data.KindFolder, data.KindFile} {
		nodes, err := s.store.ListDescendants(ctx, kind, folder.OrgID, p, folder.ID)
		if err != nil {
			s.logger.Error("listing descendants failed", "folder", folder.ID.Hex(), "err", err)
			failed++
			continue
		}
		for _, d := range nodes {
			dc, _ := d.Connection(p)
			rebased, ok := dc.Rebase(folder.ID, newPaths)
			if !ok {
				continue
			}
			if err := s.store.PutConnection(ctx, kind, d.ID, rebased); err != nil {
				failed++
				s.logger.Error("rebasing descendant failed", "id", d.ID.Hex(), "err", err)
			}
		}
	}
	return failed
}

// ShareInput selects who a node is shared with.
type ShareInput struct {
	// Shared grants the node to every agent of the org.
	Shared     bool
	ContactIDs []bson.ObjectID
	Permission data.Permission
}

// Share grants a node, and everything below it, to the org or to contacts
// of the calling agent. The node becomes a root of each grantee's tree.
// Nodes that already have a connection for a grantee only get their
// permission updated, so re-running a partly failed share completes it.
func (s *Service) Share(ctx context.Context, c access.Caller, ref NodeRef, in ShareInput) error {
	agent, ok := c.(access.AgentCaller)
	if !ok {
		return fmt.Errorf("%s %w", ref.Kind, apperr.ErrNotFound)
	}
	if in.Permission != data.Viewer && in.Permission != data.Editor {
		return apperr.FieldErrors{{Field: "permission", Msg: "must be viewer or editor"}}
	}
	if !in.Shared && len(in.ContactIDs) == 0 {
		return apperr.FieldErrors{{Field: "contacts", Msg: "is required"}}
	}

	g, err := s.resolver.Node(ctx, c, ref.Kind, ref.ID, data.Editor)
	if err != nil {
		return err
	}
	var grantees []data.Principal
	if in.Shared {
		grantees = append(grantees, data.SharedPrincipal())
	}
	for _, id := range in.ContactIDs {
		contact, err := s.resolver.OwnedContact(ctx, agent, id)
		if err != nil {
			return err
		}
		grantees = append(grantees, data.ContactPrincipal(contact.ID))
	}

	var below []*data.Node
	if ref.Kind == data.KindFolder {
		gp := g.Connection.Principal
		for _, kind := range []data.NodeKind{data.KindFolder, data.KindFile} {
			nodes, err := s.store.ListDescendants(ctx, kind, g.Node.OrgID, gp, g.Node.ID)
			if err != nil {
				return err
			}
			below = append(below, nodes...)
		}
	}

	failed := 0
	for _, q := range grantees {
		top := granted(g.Node, q, in.Permission, nil, []bson.ObjectID{})
		if err := s.store.PutConnection(ctx, ref.Kind, ref.ID, top); err != nil {
			failed++
			s.logger.Error("sharing node failed", "id", ref.ID.Hex(), "grantee", q, "err", err)
			continue
		}
		for _, d := range below {
			dc, _ := d.Connection(g.Connection.Principal)
			parent, paths := dc.Detach(g.Node.ID)
			if err := s.store.PutConnection(ctx, d.Kind, d.ID, granted(d, q, in.Permission, parent, paths)); err != nil {
				failed++
				s.logger.Error("sharing descendant failed", "id", d.ID.Hex(), "grantee", q, "err", err)
			}
		}
	}
	if failed > 0 {
		s.cascadeFailed("share")
		return fmt.Errorf("%w: %d nodes not shared", apperr.ErrPartialFailure, failed)
	}
	return nil
}

// granted returns n's connection for q with perm. An existing connection
// keeps its placement.
func granted(n *data.Node, q data.Principal, perm data.Permission, parent *bson.ObjectID, paths []bson.ObjectID) data.Connection {
	if existing, ok := n.Connection(q); ok {
		existing.Permission = perm
		return existing
	}
	return data.Connection{Principal: q, Permission: perm, ParentID: parent, ParentPaths: paths}
}
