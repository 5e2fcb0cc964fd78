/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"sync"
)

// MockedFunction mocks one API method. Tests can pin a single output, queue an ordered output
// sequence (for pagination), or arm an error; absent any of those the default transformer runs.
type MockedFunction[I any, O any] struct {
	Output          AtomicPtr[O]
	OutputSequence  AtomicPtrSlice[O]
	CalledWithInput AtomicPtrSlice[I]
	Error           AtomicError

	mu              sync.Mutex
	successfulCalls int
	failedCalls     int
}

func (m *MockedFunction[I, O]) Reset() {
	m.Output.Reset()
	m.OutputSequence.Reset()
	m.CalledWithInput.Reset()
	m.Error.Reset()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulCalls = 0
	m.failedCalls = 0
}

func (m *MockedFunction[I, O]) Invoke(input *I, defaultTransformer func(*I) (*O, error)) (*O, error) {
	if err := m.Error.Get(); err != nil {
		m.failCall()
		return nil, err
	}
	m.CalledWithInput.Add(input)
	if m.OutputSequence.Len() > 0 {
		m.successCall()
		return m.OutputSequence.Pop(), nil
	}
	if !m.Output.IsNil() {
		m.successCall()
		return m.Output.Clone(), nil
	}
	out, err := defaultTransformer(input)
	if err != nil {
		m.failCall()
		return nil, err
	}
	m.successCall()
	return out, nil
}

func (m *MockedFunction[I, O]) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successfulCalls + m.failedCalls
}

func (m *MockedFunction[I, O]) SuccessfulCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successfulCalls
}

func (m *MockedFunction[I, O]) FailedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedCalls
}

func (m *MockedFunction[I, O]) successCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulCalls++
}

func (m *MockedFunction[I, O]) failCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedCalls++
}

// AtomicPtr is a thread-safe pointer holder.
type AtomicPtr[T any] struct {
	mu    sync.RWMutex
	value *T
}

func (a *AtomicPtr[T]) Set(v *T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}

func (a *AtomicPtr[T]) IsNil() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value == nil
}

// Clone returns a shallow copy so callers cannot mutate the stored value.
func (a *AtomicPtr[T]) Clone() *T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.value == nil {
		return nil
	}
	clone := *a.value
	return &clone
}

func (a *AtomicPtr[T]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = nil
}

// AtomicPtrSlice is a thread-safe ordered collection of pointers.
type AtomicPtrSlice[T any] struct {
	mu     sync.RWMutex
	values []*T
}

func (a *AtomicPtrSlice[T]) Add(v *T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values = append(a.values, v)
}

func (a *AtomicPtrSlice[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.values)
}

// Pop removes and returns the first element, or nil when empty.
func (a *AtomicPtrSlice[T]) Pop() *T {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.values) == 0 {
		return nil
	}
	v := a.values[0]
	a.values = a.values[1:]
	return v
}

func (a *AtomicPtrSlice[T]) At(i int) *T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[i]
}

func (a *AtomicPtrSlice[T]) ForEach(fn func(*T)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, v := range a.values {
		fn(v)
	}
}

func (a *AtomicPtrSlice[T]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values = nil
}

// AtomicError is a thread-safe error holder. The armed error is returned for MaxCalls
// invocations (default 1), then clears.
type AtomicError struct {
	mu       sync.Mutex
	err      error
	calls    int
	maxCalls int
}

type AtomicErrorOption func(*AtomicError)

func MaxCalls(n int) AtomicErrorOption {
	return func(a *AtomicError) {
		a.maxCalls = n
	}
}

func (a *AtomicError) Set(err error, opts ...AtomicErrorOption) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
	a.calls = 0
	a.maxCalls = 1
	for _, opt := range opts {
		opt(a)
	}
}

// Get returns the armed error and counts the call, clearing once MaxCalls is reached.
func (a *AtomicError) Get() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		return nil
	}
	a.calls++
	err := a.err
	if a.calls >= a.maxCalls {
		a.err = nil
	}
	return err
}

func (a *AtomicError) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = nil
	a.calls = 0
	a.maxCalls = 0
}
