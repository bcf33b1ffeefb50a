// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the error thrown when the passed configuration parameter
// is not valid.
var ErrInvalidConfig = errors.New("invalid config")

// ErrInternal is the error thrown when an internal error occurred.
var ErrInternal = errors.New("internal error")

// ErrInstallFailed is the error thrown when the install step did not complete.
// Errors returned by Worker.Install satisfy errors.Is(err, ErrInstallFailed).
var ErrInstallFailed = errors.New("install failed")

// ErrBadStatus is the error thrown when an asset is answered with a non-2xx
// status during install.
var ErrBadStatus = errors.New("bad response status")

// ErrTooLarge is the error thrown when an asset body exceeds the configured
// MaxAssetSize.
var ErrTooLarge = errors.New("asset too large")

// ErrStorageClosed is the error thrown by storage operations after Close.
var ErrStorageClosed = errors.New("storage closed")

// InstallError describes the asset that caused an install attempt to fail.
type InstallError struct {
	CacheName string // name of the cache store being populated.
	Locator   string // resolved locator of the failing asset, empty if not asset specific.
	Err       error  // underlying cause.
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("%s: %v: %v", e.CacheName, ErrInstallFailed, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s: %v", e.CacheName, ErrInstallFailed, e.Locator, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InstallError) Unwrap() error { return e.Err }

// Is reports ErrInstallFailed as a match so that callers need not know the
// concrete type.
func (e *InstallError) Is(target error) bool { return target == ErrInstallFailed }
