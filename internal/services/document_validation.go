package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/pricing"
)

var settingsValidator = validator.New()

// validateDocuments returns every problem found across docs. It never stops at the first one.
func validateDocuments(docs []Document) []string {
	var problems []string
	for i, doc := range docs {
		for _, problem := range validateDocument(doc) {
			problems = append(problems, fmt.Sprintf("document %d (%s): %s", i+1, documentLabel(doc), problem))
		}
	}
	return problems
}

func validateDocument(doc Document) []string {
	var problems []string
	if !doc.FileType.Valid() {
		problems = append(problems, fmt.Sprintf("unsupported file type %q", doc.FileType))
	}
	if doc.PageCount <= 0 && (doc.NeedsPageCount || doc.FileType.Paginated()) {
		problems = append(problems, "page count must be provided")
	}
	problems = append(problems, settingsProblems(doc.Settings)...)

	if doc.Settings.PageSelection != domain.PageSelectionCustom || !doc.FileType.Paginated() || doc.PageCount <= 0 {
		return problems
	}
	bw, bwErr := pricing.Resolve(doc.Settings.BWPages, doc.PageCount)
	if bwErr != nil {
		problems = append(problems, "black & white pages: "+bwErr.Error())
	}
	color, colorErr := pricing.Resolve(doc.Settings.ColorPages, doc.PageCount)
	if colorErr != nil {
		problems = append(problems, "colour pages: "+colorErr.Error())
	}
	if bwErr == nil && colorErr == nil {
		if overlap, ok := pricing.CheckOverlap(bw, color); ok {
			problems = append(problems, fmt.Sprintf("pages %s are selected for both black & white and colour", overlap))
		}
	}
	return problems
}

func settingsProblems(settings PrintSettings) []string {
	err := settingsValidator.Struct(settings)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return problems
}

func describeFieldError(fe validator.FieldError) string {
	field := settingsFieldNames[fe.Field()]
	if field == "" {
		field = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

var settingsFieldNames = map[string]string{
	"ColorMode":     "colour mode",
	"PageSelection": "page selection",
	"BWPages":       "black & white pages",
	"ColorPages":    "colour pages",
	"PaperSize":     "paper size",
	"Orientation":   "orientation",
	"Quality":       "quality",
	"Copies":        "copies",
}

func documentLabel(doc Document) string {
	if name := strings.TrimSpace(doc.Name); name != "" {
		return name
	}
	if doc.ID != "" {
		return doc.ID
	}
	return "unnamed"
}
