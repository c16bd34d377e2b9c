package handler

import (
	"net/http"
)

// PUT /books/{bookID}
func (h *Handler) PutBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuidParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid book_id parameter")
		return
	}
	var req BookRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	book := req.toBook(bookID)
	if err := h.service.UpsertBook(r.Context(), book); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book.Response())
}

// DELETE /books/{bookID}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuidParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid book_id parameter")
		return
	}
	found, err := h.service.DeleteBook(r.Context(), bookID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "book_not_found", "Book "+bookID.String()+" does not exist")
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{ID: bookID, Deleted: true})
}
