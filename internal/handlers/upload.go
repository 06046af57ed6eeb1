package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
)

// ImageField is the multipart field carrying the uploaded image
const ImageField = "image"

// uploadError is an input error reported as 4xx before any processing
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// readImage extracts the uploaded image from a multipart request. The caller
// closes the returned file.
func readImage(w http.ResponseWriter, r *http.Request, maxBytes int64) (multipart.File, *multipart.FileHeader, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	file, header, err := r.FormFile(ImageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, nil, &uploadError{status: http.StatusRequestEntityTooLarge, msg: "Image file too large"}
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, nil, &uploadError{status: http.StatusBadRequest, msg: "No image file provided"}
		default:
			return nil, nil, &uploadError{status: http.StatusBadRequest, msg: "Invalid upload: " + err.Error()}
		}
	}

	if strings.TrimSpace(header.Filename) == "" {
		file.Close()
		return nil, nil, &uploadError{status: http.StatusBadRequest, msg: "No selected file"}
	}

	return file, header, nil
}

// cleanupForm removes temporary files created while parsing the form
func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// writeUploadError writes err when it is an upload error and reports whether it did
func writeUploadError(w http.ResponseWriter, err error) bool {
	var ue *uploadError
	if errors.As(err, &ue) {
		writeError(w, ue.status, ue.msg)
		return true
	}
	return false
}
