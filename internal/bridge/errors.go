// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"errors"
	"fmt"

	"github.com/opentofu/hotbundle/internal/extract"
	"github.com/opentofu/hotbundle/internal/integrity"
	"github.com/opentofu/hotbundle/internal/lifecycle"
	"github.com/opentofu/hotbundle/internal/transfer"
)

// Code is one of the error codes that the host application sees.
type Code string

const (
	CodeMissingBundleID             Code = "MISSING_BUNDLE_ID"
	CodeInvalidFileURL              Code = "INVALID_FILE_URL"
	CodeDirectoryCreationFailed     Code = "DIRECTORY_CREATION_FAILED"
	CodeDownloadFailed              Code = "DOWNLOAD_FAILED"
	CodeIncompleteDownload          Code = "INCOMPLETE_DOWNLOAD"
	CodeExtractionFormatError       Code = "EXTRACTION_FORMAT_ERROR"
	CodeInvalidBundle               Code = "INVALID_BUNDLE"
	CodeInsufficientDiskSpace       Code = "INSUFFICIENT_DISK_SPACE"
	CodeSignatureVerificationFailed Code = "SIGNATURE_VERIFICATION_FAILED"
	CodeMoveOperationFailed         Code = "MOVE_OPERATION_FAILED"
	CodeBundleInCrashedHistory      Code = "BUNDLE_IN_CRASHED_HISTORY"
	CodeUnknownError                Code = "UNKNOWN_ERROR"
)

// ErrInvalidFileURL is returned when an update names a file URL that cannot
// be downloaded.
var ErrInvalidFileURL = errors.New("invalid file URL")

// Error is an error with a public code and a message suitable for showing
// to the host application. Err is the underlying cause, which is not part
// of the message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode classifies err into the closed set of public codes. Errors
// that fit no other code are CodeUnknownError.
func ErrorCode(err error) Code {
	var bridgeErr *Error
	var spaceErr *lifecycle.InsufficientDiskSpaceError
	var incompleteErr *transfer.IncompleteDownloadError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &bridgeErr):
		return bridgeErr.Code
	case errors.Is(err, lifecycle.ErrMissingBundleID), errors.Is(err, lifecycle.ErrInvalidBundleID):
		return CodeMissingBundleID
	case errors.Is(err, ErrInvalidFileURL):
		return CodeInvalidFileURL
	case errors.Is(err, lifecycle.ErrBundleInCrashedHistory):
		return CodeBundleInCrashedHistory
	case errors.As(err, &spaceErr):
		return CodeInsufficientDiskSpace
	case errors.Is(err, lifecycle.ErrDirectoryCreation):
		return CodeDirectoryCreationFailed
	case errors.As(err, &incompleteErr):
		return CodeIncompleteDownload
	case errors.Is(err, transfer.ErrDownloadFailed), errors.Is(err, transfer.ErrDownloadInterrupted):
		return CodeDownloadFailed
	case isVerificationError(err):
		return CodeSignatureVerificationFailed
	case errors.Is(err, extract.ErrExtractionFormat):
		return CodeExtractionFormatError
	case errors.Is(err, extract.ErrInvalidBundle):
		return CodeInvalidBundle
	case errors.Is(err, lifecycle.ErrMoveOperationFailed):
		return CodeMoveOperationFailed
	default:
		return CodeUnknownError
	}
}

func isVerificationError(err error) bool {
	for _, target := range []error{
		integrity.ErrSignatureVerificationFailed,
		integrity.ErrHashMismatch,
		integrity.ErrPublicKeyNotConfigured,
		integrity.ErrInvalidPublicKeyFormat,
		integrity.ErrInvalidCredential,
		integrity.ErrFileRead,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// publicError converts err into an *Error carrying its public code and a
// message that does not leak internal detail.
func publicError(err error) *Error {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}

	code := ErrorCode(err)
	ret := &Error{Code: code, Err: err}
	switch code {
	case CodeMissingBundleID:
		ret.Message = "Missing or invalid 'bundleId'"
	case CodeInvalidFileURL:
		ret.Message = "Invalid 'fileUrl' provided"
	case CodeDirectoryCreationFailed:
		ret.Message = "Failed to create bundle directory"
	case CodeDownloadFailed:
		ret.Message = "Failed to download bundle"
	case CodeIncompleteDownload:
		var incompleteErr *transfer.IncompleteDownloadError
		errors.As(err, &incompleteErr)
		ret.Message = fmt.Sprintf("Download incomplete: received %d bytes, expected %d bytes", incompleteErr.Actual, incompleteErr.Expected)
	case CodeExtractionFormatError:
		ret.Message = "Invalid or corrupted bundle archive format"
	case CodeInvalidBundle:
		ret.Message = "Bundle missing required platform files"
	case CodeInsufficientDiskSpace:
		var spaceErr *lifecycle.InsufficientDiskSpaceError
		errors.As(err, &spaceErr)
		ret.Message = fmt.Sprintf("Insufficient disk space: need %d bytes, available %d bytes", spaceErr.Required, spaceErr.Available)
	case CodeSignatureVerificationFailed:
		ret.Message = "Bundle signature verification failed"
	case CodeMoveOperationFailed:
		ret.Message = "Failed to move bundle files"
	case CodeBundleInCrashedHistory:
		ret.Message = "Bundle is in crashed history and cannot be applied"
	default:
		ret.Message = "An unknown error occurred"
	}
	return ret
}
