// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors defines the engine's single error type and a
// constructor per error kind, so call sites never branch on Go type
// identity and every failure carries an operator-facing title, detail,
// and hint alongside its cause.
package errors

import "fmt"

// Kind discriminates the category of an EngineError.
type Kind string

const (
	KindConfigRead            Kind = "config_read"
	KindConfigParse           Kind = "config_parse"
	KindConfigInvalid         Kind = "config_invalid"
	KindCatalogInit           Kind = "catalog_init"
	KindCatalogQuery          Kind = "catalog_query"
	KindCatalogInsert         Kind = "catalog_insert"
	KindCatalogUpdate         Kind = "catalog_update"
	KindWalkError             Kind = "walk_error"
	KindMetadataError         Kind = "metadata_error"
	KindModificationTimeError Kind = "modification_time_error"
	KindHashIO                Kind = "hash_io"
	KindFileCopy              Kind = "file_copy"
	KindVerificationFailed    Kind = "verification_failed"
	KindPathEscape            Kind = "path_escape"
	KindThreadPool            Kind = "thread_pool"
	KindInternal              Kind = "internal"
)

// EngineError is the sole error type produced by this module's own
// packages. Title is a short operator-facing summary, Detail expands
// on it, Hint suggests a remedy, and Cause (optional) wraps the
// underlying error for %w-style unwrapping.
type EngineError struct {
	Kind   Kind
	Title  string
	Detail string
	Hint   string
	Cause  error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, title, detail, hint string, cause error) *EngineError {
	return &EngineError{Kind: kind, Title: title, Detail: detail, Hint: hint, Cause: cause}
}

func NewConfigReadError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindConfigRead, title, detail, hint, cause)
}

func NewConfigParseError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindConfigParse, title, detail, hint, cause)
}

func NewConfigInvalidError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindConfigInvalid, title, detail, hint, cause)
}

func NewCatalogInitError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindCatalogInit, title, detail, hint, cause)
}

func NewCatalogQueryError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindCatalogQuery, title, detail, hint, cause)
}

func NewCatalogInsertError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindCatalogInsert, title, detail, hint, cause)
}

func NewCatalogUpdateError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindCatalogUpdate, title, detail, hint, cause)
}

func NewWalkError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindWalkError, title, detail, hint, cause)
}

func NewMetadataError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindMetadataError, title, detail, hint, cause)
}

func NewModificationTimeError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindModificationTimeError, title, detail, hint, cause)
}

func NewHashIOError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindHashIO, title, detail, hint, cause)
}

func NewFileCopyError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindFileCopy, title, detail, hint, cause)
}

func NewVerificationFailedError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindVerificationFailed, title, detail, hint, cause)
}

func NewPathEscapeError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindPathEscape, title, detail, hint, cause)
}

func NewThreadPoolError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindThreadPool, title, detail, hint, cause)
}

func NewInternalError(title, detail, hint string, cause error) *EngineError {
	return newErr(KindInternal, title, detail, hint, cause)
}
