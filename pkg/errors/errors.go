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

package errors

import (
	"errors"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

const (
	SubscriptionRequiredCode  = "SubscriptionRequiredException"
	AccessDeniedCode          = "AccessDenied"
	AccessDeniedExceptionCode = "AccessDeniedException"
)

var (
	throttlingErrorCodes = []string{
		"ThrottlingException",
		"Throttling",
		"TooManyRequestsException",
		"RequestLimitExceeded",
		"ServiceQuotaExceededException",
	}
	// This is not an exhaustive list, add to it as needed
	notFoundErrorCodes = []string{
		"ResourceNotFoundException",
		"AccountNotFoundException",
		"AWS.SimpleQueueService.NonExistentQueue",
	}
	accessDeniedErrorCodes = []string{
		AccessDeniedCode,
		AccessDeniedExceptionCode,
	}
)

// SubscriptionRequiredError wraps the upstream error returned when the organization health
// feed is not enabled for the calling account. The pipeline cannot run without organization
// view, so callers treat this as fatal rather than retryable.
type SubscriptionRequiredError struct {
	Err error
}

func (e *SubscriptionRequiredError) Error() string {
	return e.Err.Error()
}

func (e *SubscriptionRequiredError) Unwrap() error {
	return e.Err
}

func IsSubscriptionRequired(err error) bool {
	if err == nil {
		return false
	}
	var srErr *SubscriptionRequiredError
	if errors.As(err, &srErr) {
		return true
	}
	return apiErrorCodeIn(err, []string{SubscriptionRequiredCode})
}

// IsThrottling returns true if the err is an AWS error (even if it's wrapped) that indicates
// the caller should back off and retry
func IsThrottling(err error) bool {
	return apiErrorCodeIn(err, throttlingErrorCodes)
}

// IsNotFound returns true if the err is an AWS error (even if it's wrapped) and is known to
// mean "not found" (as opposed to a more serious or unexpected error)
func IsNotFound(err error) bool {
	return apiErrorCodeIn(err, notFoundErrorCodes)
}

// IsAccessDenied returns true if the error is an AWS error (even if it's wrapped) and is known
// to mean "access denied" (as opposed to a more serious or unexpected error)
func IsAccessDenied(err error) bool {
	return apiErrorCodeIn(err, accessDeniedErrorCodes)
}

func apiErrorCodeIn(err error, codes []string) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(codes, apiErr.ErrorCode())
	}
	return false
}
