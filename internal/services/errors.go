package services

import (
	"errors"
	"strings"

	"github.com/printdesk/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the submission or its documents failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnauthenticated indicates no signed-in customer was supplied.
	ErrOrderUnauthenticated = errors.New("order: customer is not signed in")
	// ErrShopClosed indicates the shop is not accepting orders.
	ErrShopClosed = errors.New("order: shop is closed")
	// ErrSubmissionInFlight indicates another submission for the same session has not finished.
	ErrSubmissionInFlight = errors.New("order: submission already in progress")
	// ErrOrderUploadFailed indicates a document could not be stored. Nothing was persisted.
	ErrOrderUploadFailed = errors.New("order: document upload failed")
	// ErrOrderPersistFailed indicates the order record could not be written.
	ErrOrderPersistFailed = errors.New("order: persist failed")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderAlreadyPaid indicates a payment was recorded by a different transaction.
	ErrOrderAlreadyPaid = errors.New("order: already paid")
	// ErrOrderUnavailable indicates the order store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// ErrSessionNotFound indicates the upload session does not exist or belongs to another customer.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionInvalidInput indicates an upload or edit was rejected.
	ErrSessionInvalidInput = errors.New("session: invalid input")
	// ErrDocumentNotFound indicates the document is not part of the session.
	ErrDocumentNotFound = errors.New("session: document not found")

	// ErrPaymentInvalidInput indicates the payment request was malformed.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentUnavailable indicates the payment gateway could not be reached.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// ValidationError lists every problem found while validating a submission.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrOrderInvalidInput.Error()
	}
	return ErrOrderInvalidInput.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrOrderInvalidInput
}

// translateOrderRepoError maps repository failures onto order sentinels. fallback is used for
// errors that carry no repository classification.
func translateOrderRepoError(err error, fallback error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderAlreadyPaid
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return errors.Join(fallback, err)
}
