package handler

import (
	"net/http"
)

// BookHandler serves copies of the live books.
type BookHandler struct {
	books BookSource
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(books BookSource) *BookHandler {
	return &BookHandler{books: books}
}

// GetBook returns the top levels of one instrument's book.
// GET /api/books/{instrument}?depth=N
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := parseDepth(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instrument := r.PathValue("instrument")
	b, ok := h.books.Book(instrument, depth)
	if !ok {
		writeError(w, http.StatusNotFound, "no book for "+instrument)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
