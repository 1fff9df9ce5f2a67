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

// Result is the outcome of an asynchronous operation.
type Result[T any] struct {
	Value T
	Err   error
}

// goResult runs fn on a new goroutine. The returned channel yields exactly one
// Result and is then closed.
func goResult[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

func goErr(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- fn()
	}()
	return ch
}

func goValue[T any](fn func() T) <-chan T {
	ch := make(chan T, 1)
	go func() {
		defer close(ch)
		ch <- fn()
	}()
	return ch
}
