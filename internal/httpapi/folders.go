package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/folders"
)

// placement is the request form of folders.Placement.
type placement struct {
	ParentID  *bson.ObjectID  `json:"parentId"`
	Tree      access.TreeKind `json:"tree"`
	ContactID bson.ObjectID   `json:"contactId"`
	AgentOnly bool            `json:"agentOnly"`
}

func (p placement) toPlacement() folders.Placement {
	return folders.Placement{
		ParentID:  p.ParentID,
		Tree:      access.Tree{Kind: p.Tree, ContactID: p.ContactID},
		ContactID: p.ContactID,
		AgentOnly: p.AgentOnly,
	}
}

func kindOf(r *http.Request) data.NodeKind {
	if mux.Vars(r)["kind"] == "files" {
		return data.KindFile
	}
	return data.KindFolder
}

func treeFromQuery(r *http.Request) (access.Tree, error) {
	tree := access.Tree{Kind: access.TreeKind(r.URL.Query().Get("tree"))}
	id, err := queryID(r, "contactId")
	if err != nil {
		return tree, err
	}
	if id != nil {
		tree.ContactID = *id
	}
	return tree, nil
}

func (s *Server) listFolder(w http.ResponseWriter, r *http.Request) {
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := treeFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	parent, err := queryID(r, "parentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listing, err := s.folders.List(r.Context(), c, tree, parent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		placement
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := s.folders.CreateFolder(r.Context(), c, req.Name, req.toPlacement())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) requestUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	up, err := s.folders.RequestUpload(r.Context(), c, req.Name, req.ContentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (s *Server) createFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key         string `json:"key"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
		placement
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := s.folders.CreateFile(r.Context(), c, folders.FileInput{
		Key:         req.Key,
		Name:        req.Name,
		ContentType: req.ContentType,
		Size:        req.Size,
	}, req.toPlacement())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.folders.Rename(r.Context(), c, folders.NodeRef{Kind: kindOf(r), ID: id}, req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "renamed"})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	url, err := s.folders.Download(r.Context(), c, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.folders.DeleteFile(r.Context(), c, id)
	s.writeResult(w, r, http.StatusOK, map[string]string{"msg": "file deleted"}, err)
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.folders.DeleteFolder(r.Context(), c, id)
	s.writeResult(w, r, http.StatusOK, map[string]string{"msg": "folder deleted"}, err)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tree      access.TreeKind   `json:"tree"`
		ContactID bson.ObjectID     `json:"contactId"`
		Items     []folders.NodeRef `json:"items"`
		TargetID  *bson.ObjectID    `json:"targetId"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tree := access.Tree{Kind: req.Tree, ContactID: req.ContactID}
	err = s.folders.Move(r.Context(), c, tree, req.Items, req.TargetID)
	s.writeResult(w, r, http.StatusOK, map[string]string{"msg": "moved"}, err)
}

func (s *Server) share(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shared     bool            `json:"shared"`
		ContactIDs []bson.ObjectID `json:"contactIds"`
		Permission data.Permission `json:"permission"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.folders.Share(r.Context(), c, folders.NodeRef{Kind: kindOf(r), ID: id}, folders.ShareInput{
		Shared:     req.Shared,
		ContactIDs: req.ContactIDs,
		Permission: req.Permission,
	})
	s.writeResult(w, r, http.StatusOK, map[string]string{"msg": "shared"}, err)
}

func (s *Server) createFileShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Codeword string `json:"codeword"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	share, err := s.folders.CreateFileShare(r.Context(), agent, id, req.Codeword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

// openShare is reachable without an account: the link token and its
// codeword are the credential.
func (s *Server) openShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Codeword string `json:"codeword"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	node, url, err := s.folders.OpenFileShare(r.Context(), mux.Vars(r)["token"], req.Codeword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": node, "url": url})
}

func (s *Server) copyShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Codeword string `json:"codeword"`
		placement
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := s.folders.CopyFileShare(r.Context(), mux.Vars(r)["token"], req.Codeword, agent, req.toPlacement())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}
