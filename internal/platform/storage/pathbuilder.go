package storage

import (
	"fmt"
	"strings"
)

// DocumentPath identifies where an uploaded order document is stored.
type DocumentPath struct {
	CustomerID string
	BatchID    string
	DocumentID string
	FileName   string
}

// Build composes documents/{customer}/{batch}/{document}/{file}.
func (p DocumentPath) Build() (string, error) {
	customerID, err := validateSegment("customerID", p.CustomerID)
	if err != nil {
		return "", err
	}
	batchID, err := validateSegment("batchID", p.BatchID)
	if err != nil {
		return "", err
	}
	documentID, err := validateSegment("documentID", p.DocumentID)
	if err != nil {
		return "", err
	}
	fileName, err := validateSegment("fileName", p.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("documents/%s/%s/%s/%s", customerID, batchID, documentID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
