// Package documents inspects uploaded files: display name clean-up, file type detection and PDF
// page counting.
package documents

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/unicode/norm"

	"github.com/printdesk/api/internal/domain"
)

const (
	maxNameRunes = 120
	fallbackName = "document"
)

// ErrUnsupportedFileType is returned for files that cannot be printed.
var ErrUnsupportedFileType = errors.New("documents: unsupported file type")

var (
	stripTags = bluemonday.StrictPolicy()

	extensionTypes = map[string]domain.FileType{
		".pdf":  domain.FileTypePDF,
		".doc":  domain.FileTypeDOCX,
		".docx": domain.FileTypeDOCX,
		".odt":  domain.FileTypeDOCX,
		".ppt":  domain.FileTypePPTX,
		".pptx": domain.FileTypePPTX,
		".odp":  domain.FileTypePPTX,
		".png":  domain.FileTypeImage,
		".jpg":  domain.FileTypeImage,
		".jpeg": domain.FileTypeImage,
		".gif":  domain.FileTypeImage,
		".webp": domain.FileTypeImage,
	}

	mediaTypes = map[string]domain.FileType{
		"application/pdf":    domain.FileTypePDF,
		"application/msword": domain.FileTypeDOCX,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   domain.FileTypeDOCX,
		"application/vnd.ms-powerpoint":                                             domain.FileTypePPTX,
		"application/vnd.openxmlformats-officedocument.presentationml.presentation": domain.FileTypePPTX,
	}
)

// Inspection is the result of Inspect.
type Inspection struct {
	Name           string
	ContentType    string
	FileType       domain.FileType
	PageCount      int
	NeedsPageCount bool
}

// Inspect derives the display name, file type and page count of an upload. Non-paginated types
// count as one page. A PDF whose pages cannot be counted is flagged with NeedsPageCount.
func Inspect(name, contentType string, content []byte) (Inspection, error) {
	clean := SanitizeName(name)
	fileType, mediaType, err := DetectFileType(clean, contentType, content)
	if err != nil {
		return Inspection{}, err
	}
	out := Inspection{Name: clean, ContentType: mediaType, FileType: fileType, PageCount: 1}
	if !fileType.Paginated() {
		return out, nil
	}
	pages, err := CountPages(content)
	if err != nil || pages < 1 {
		out.PageCount = 0
		out.NeedsPageCount = true
		return out, nil
	}
	out.PageCount = pages
	return out, nil
}

// DetectFileType classifies an upload by extension, then declared media type, then content sniffing.
func DetectFileType(name, contentType string, content []byte) (domain.FileType, string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	mediaType = strings.ToLower(mediaType)
	sniffed := http.DetectContentType(content)

	if ft, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		if mediaType == "" {
			mediaType = sniffed
		}
		return ft, mediaType, nil
	}
	for _, candidate := range []string{mediaType, sniffed} {
		if ft, ok := mediaTypes[candidate]; ok {
			return ft, candidate, nil
		}
		if strings.HasPrefix(candidate, "image/") {
			return domain.FileTypeImage, candidate, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, name)
}

// CountPages returns the number of pages of a PDF.
func CountPages(content []byte) (int, error) {
	if len(content) == 0 {
		return 0, errors.New("documents: empty content")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(content), conf)
	if err != nil {
		return 0, fmt.Errorf("documents: count pages: %w", err)
	}
	return pages, nil
}

// SanitizeName normalises a client supplied file name for display and storage paths.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)
	name = html.UnescapeString(stripTags.Sanitize(name))
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	cleaned = strings.Trim(strings.TrimSpace(cleaned), ".")
	cleaned = strings.ReplaceAll(cleaned, "..", "_")
	if cleaned == "" {
		return fallbackName
	}

	if utf8.RuneCountInString(cleaned) > maxNameRunes {
		ext := filepath.Ext(cleaned)
		if utf8.RuneCountInString(ext) > 10 {
			ext = ""
		}
		base := []rune(strings.TrimSuffix(cleaned, ext))
		cleaned = string(base[:maxNameRunes-utf8.RuneCountInString(ext)]) + ext
	}
	return cleaned
}
