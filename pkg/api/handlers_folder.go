package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tidestore/tidestore/pkg/folder"
)

// folderHandler serves the folder hierarchy routes.
type folderHandler struct {
	tree *folder.Tree
}

func newFolderHandler(tree *folder.Tree) *folderHandler {
	return &folderHandler{tree: tree}
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

func (h *folderHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req createFolderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	created, err := h.tree.Create(r.Context(), principal.UserID, req.Name, req.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type moveFolderRequest struct {
	NewParentID *string `json:"new_parent_id,omitempty"`
}

func (h *folderHandler) Move(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req moveFolderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	moved, err := h.tree.Move(r.Context(), principal.UserID, chi.URLParam(r, "folderID"), req.NewParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moved)
}

type renameFolderRequest struct {
	Name string `json:"name"`
}

func (h *folderHandler) Rename(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req renameFolderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	renamed, err := h.tree.Rename(r.Context(), principal.UserID, chi.URLParam(r, "folderID"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renamed)
}

func (h *folderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	result, err := h.tree.Delete(r.Context(), principal.UserID, chi.URLParam(r, "folderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// List returns subfolders of ?parent_id, or the root when absent.
func (h *folderHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var parentID *string
	if v := r.URL.Query().Get("parent_id"); v != "" {
		parentID = &v
	}

	folders, err := h.tree.List(r.Context(), principal.UserID, parentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

// Contents returns one page of a folder's subfolders and files.
func (h *folderHandler) Contents(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var folderID *string
	if v := chi.URLParam(r, "folderID"); v != "" {
		folderID = &v
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	contents, err := h.tree.Contents(r.Context(), principal.UserID, folderID, page, limit, q.Get("sort"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contents)
}

type moveFileRequest struct {
	FolderID *string `json:"folder_id,omitempty"`
}

func (h *folderHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req moveFileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.tree.MoveFile(r.Context(), principal.UserID, chi.URLParam(r, "fileID"), req.FolderID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}
