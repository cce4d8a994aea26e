package app

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnsupportedFile  = errors.New("only PDF files are allowed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNoContent        = errors.New("no processable content found in document")
)
