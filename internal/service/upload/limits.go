package upload

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"datamask/internal/apperr"
)

const defaultMaxUploadBytes = 10 << 20 // 10 MB

var allowedContentTypes = []string{
	"text/plain",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	// .docx sniffs as a zip archive
	"application/zip",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

// checkLimits enforces the size cap and sniffs the first 512 bytes. The returned
// reader replays the sniffed prefix.
func checkLimits(file *SelectedFile, maxBytes int64) (io.Reader, *apperr.Error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	if file.Size > maxBytes {
		return nil, apperr.Validation("file too large")
	}
	buf := make([]byte, 512)
	n, err := io.ReadFull(file.Reader, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperr.Validation("read file failed")
	}
	sniffed := http.DetectContentType(buf[:n])
	// legacy Word files have no signature the sniffer knows
	legacyDoc := sniffed == "application/octet-stream" && strings.EqualFold(filepath.Ext(file.Name), ".doc")
	if !legacyDoc && !isAllowedContentType(sniffed) {
		return nil, apperr.Validation("unsupported file type")
	}
	return io.MultiReader(bytes.NewReader(buf[:n]), file.Reader), nil
}
