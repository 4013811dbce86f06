package domain

import "strings"

// UpdateStatus is tracked alongside an update; manifest fields never change.
type UpdateStatus string

const (
	UpdateStatusUnknown UpdateStatus = ""
	UpdateStatusPending UpdateStatus = "pending"
	UpdateStatusReady   UpdateStatus = "ready"
	UpdateStatusFailed  UpdateStatus = "failed"
)

// AssetStatus is the download state of one asset.
type AssetStatus string

const (
	AssetStatusUnknown    AssetStatus = ""
	AssetStatusPending    AssetStatus = "pending"
	AssetStatusDownloaded AssetStatus = "downloaded"
	AssetStatusFailed     AssetStatus = "failed"
)

var validUpdateStatuses = map[UpdateStatus]struct{}{
	UpdateStatusPending: {},
	UpdateStatusReady:   {},
	UpdateStatusFailed:  {},
}

var validAssetStatuses = map[AssetStatus]struct{}{
	AssetStatusPending:    {},
	AssetStatusDownloaded: {},
	AssetStatusFailed:     {},
}

var allowedTransitions = map[UpdateStatus]map[UpdateStatus]struct{}{
	UpdateStatusPending: {
		UpdateStatusReady:  {},
		UpdateStatusFailed: {},
	},
	UpdateStatusReady: {
		UpdateStatusFailed: {},
	},
	UpdateStatusFailed: {
		UpdateStatusReady: {},
	},
}

// ParseUpdateStatus normalises and validates an update status string.
func ParseUpdateStatus(raw string) (UpdateStatus, error) {
	status := UpdateStatus(strings.ToLower(strings.TrimSpace(raw)))
	if err := status.Validate(); err != nil {
		return UpdateStatusUnknown, err
	}
	return status, nil
}

// Validate ensures the status is one of pending, ready, failed.
func (s UpdateStatus) Validate() error {
	if _, ok := validUpdateStatuses[s]; !ok {
		if s == UpdateStatusUnknown {
			return invalidStatusError("update", "blank")
		}
		return invalidStatusError("update", string(s))
	}
	return nil
}

// CanTransitionTo verifies whether a transition to the target status is allowed.
func (s UpdateStatus) CanTransitionTo(target UpdateStatus) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	if s == target {
		return nil
	}
	if transitions, ok := allowedTransitions[s]; ok {
		if _, allowed := transitions[target]; allowed {
			return nil
		}
	}
	return invalidTransitionError(s, target)
}

// ParseAssetStatus normalises and validates an asset status string.
func ParseAssetStatus(raw string) (AssetStatus, error) {
	status := AssetStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validAssetStatuses[status]; !ok {
		if status == AssetStatusUnknown {
			return AssetStatusUnknown, invalidStatusError("asset", "blank")
		}
		return AssetStatusUnknown, invalidStatusError("asset", raw)
	}
	return status, nil
}
