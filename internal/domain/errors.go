package domain

import (
	"fmt"

	appErrors "launchpad/internal/errors"
)

func invalidStatusError(kind, status string) error {
	return appErrors.New(appErrors.CodeInvalidStatus, fmt.Sprintf("invalid %s status: %s", kind, status), nil)
}

func invalidTransitionError(from, to UpdateStatus) error {
	return appErrors.New(appErrors.CodeInvalidTransition, fmt.Sprintf("cannot transition update from %s to %s", from, to), nil)
}

func invalidUpdateError(reason string) error {
	return appErrors.New(appErrors.CodeManifestValidation, reason, nil)
}
