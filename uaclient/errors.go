// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"errors"
	"fmt"

	"github.com/gopcua/opcua/ua"
)

var (
	// ErrServerConnection matches every *ServerConnectionError.
	ErrServerConnection = errors.New("server connection error")
	// ErrNotConnected is returned by operations issued without a session.
	ErrNotConnected = errors.New("not connected")
	// ErrWrite matches every *WriteError.
	ErrWrite = errors.New("write error")
	// ErrRead matches every *ReadError.
	ErrRead = errors.New("read error")
	// ErrUnsupportedType matches every *UnsupportedTypeError.
	ErrUnsupportedType = errors.New("unsupported type")
)

// ServerConnectionError is returned by Connect when no live session could be established.
type ServerConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ServerConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not connect to %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("could not connect to %s", e.Endpoint)
}

func (e *ServerConnectionError) Unwrap() error { return e.Err }

func (e *ServerConnectionError) Is(target error) bool { return target == ErrServerConnection }

// WriteError carries the first non-good status of a write.
type WriteError struct {
	Address string
	Code    ua.StatusCode
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v (0x%08X)", e.Address, e.Code, uint32(e.Code))
}

func (e *WriteError) Unwrap() error { return e.Code }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// ReadError carries the non-good status of a typed read.
type ReadError struct {
	Address string
	Code    ua.StatusCode
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v (0x%08X)", e.Address, e.Code, uint32(e.Code))
}

func (e *ReadError) Unwrap() error { return e.Code }

func (e *ReadError) Is(target error) bool { return target == ErrRead }

// UnsupportedTypeError names a requested type outside the coercion set.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("type %s is not supported", e.Type)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// ConversionError wraps the parse or range error raised while coercing a value.
type ConversionError struct {
	Value any
	Kind  Kind
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %v (%T) to %s: %v", e.Value, e.Value, e.Kind, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
