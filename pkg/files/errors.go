package files

import (
	"fmt"

	"github.com/marmos91/dittoshare/pkg/store/record"
)

func invalidArgument(format string, args ...any) error {
	return &record.StoreError{Code: record.ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func accessDenied(id, message string) error {
	return &record.StoreError{Code: record.ErrAccessDenied, Message: message, ID: id}
}

func payloadTooLarge(size, limit int64) error {
	return &record.StoreError{
		Code:    record.ErrPayloadTooLarge,
		Message: fmt.Sprintf("payload of %d bytes exceeds the %d byte limit", size, limit),
	}
}

func storageFailure(op string, err error) error {
	return &record.StoreError{Code: record.ErrIOError, Message: fmt.Sprintf("%s failed: %v", op, err)}
}
