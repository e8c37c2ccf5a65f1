package services

import (
	"strings"
	"testing"

	domain "github.com/printdesk/api/internal/domain"
)

func TestValidateDocumentsAggregatesProblems(t *testing.T) {
	overlap := pdfDocument("a", 10, 1)
	overlap.Settings.PageSelection = domain.PageSelectionCustom
	overlap.Settings.BWPages = "1-5"
	overlap.Settings.ColorPages = "5-10"

	uncounted := pdfDocument("b", 0, 0)

	badSettings := docxDocument("c")
	badSettings.Settings.PaperSize = "B5"

	problems := validateDocuments([]Document{overlap, uncounted, badSettings})
	want := []string{
		"document 1 (a.pdf): pages 5 are selected for both black & white and colour",
		"document 2 (b.pdf): page count must be provided",
		"document 2 (b.pdf): copies must be at least 1",
		"document 3 (c.docx): paper size must be one of A4, A3, LETTER, LEGAL",
	}
	if len(problems) != len(want) {
		t.Fatalf("expected %d problems, got %d: %v", len(want), len(problems), problems)
	}
	for i := range want {
		if problems[i] != want[i] {
			t.Fatalf("problem %d: expected %q, got %q", i, want[i], problems[i])
		}
	}
}

func TestValidateDocumentReportsBadRanges(t *testing.T) {
	doc := pdfDocument("a", 4, 1)
	doc.Settings.PageSelection = domain.PageSelectionCustom
	doc.Settings.BWPages = "1-9"

	problems := validateDocument(doc)
	if len(problems) != 1 || !strings.HasPrefix(problems[0], "black & white pages: ") {
		t.Fatalf("unexpected problems %v", problems)
	}
}

func TestValidateDocumentIgnoresRangesOnSingleUnitFiles(t *testing.T) {
	doc := docxDocument("a")
	doc.Settings.PageSelection = domain.PageSelectionCustom
	doc.Settings.BWPages = "garbage"

	if problems := validateDocument(doc); len(problems) != 0 {
		t.Fatalf("expected no problems, got %v", problems)
	}
}
