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

package health_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
)

var _ = Describe("SimplifiedDescription", func() {
	DescribeTable("should map event type codes through the rule table",
		func(service, code, expected string) {
			Expect(health.SimplifiedDescription(service, code)).To(Equal(expected))
		},
		Entry("operational issue", "EC2", "AWS_EC2_OPERATIONAL_ISSUE", "EC2 - Service disruptions or performance problems"),
		Entry("security notification", "IAM", "AWS_IAM_SECURITY_NOTIFICATION", "IAM - Security-related alerts and warnings"),
		Entry("planned lifecycle", "LAMBDA", "AWS_LAMBDA_PLANNED_LIFECYCLE_EVENT", "LAMBDA - Lifecycle changes requiring action"),
		Entry("scheduled maintenance", "RDS", "AWS_RDS_MAINTENANCE_SCHEDULED", "RDS - Routine Maintenance"),
		Entry("system maintenance", "RDS", "AWS_RDS_SYSTEM_MAINTENANCE", "RDS - Routine Maintenance"),
		Entry("patching retirement", "ELASTICACHE", "AWS_ELASTICACHE_PATCHING_RETIREMENT", "ELASTICACHE - Routine Maintenance"),
		Entry("update available", "EKS", "AWS_EKS_UPDATE_AVAILABLE", "EKS - Available software or system updates"),
		Entry("vpn connectivity", "VPN", "AWS_VPN_CONNECTIVITY_ISSUE", "VPN tunnel or connection status alert"),
		Entry("billing notification", "BILLING", "AWS_BILLING_NOTIFICATION", "BILLING - Billing or Cost change notification"),
		Entry("unknown code", "S3", "AWS_S3_SOMETHING_ELSE", "S3 - Service-specific events"),
		Entry("missing service", "", "AWS_UNKNOWN_THING", "AWS - Service-specific events"),
		Entry("not applicable service", "N/A", "AWS_UNKNOWN_THING", "AWS - Service-specific events"),
	)
})

var _ = Describe("NormalizeDescription", func() {
	It("should pass strings through", func() {
		Expect(health.NormalizeDescription("plain text")).To(Equal("plain text"))
	})
	It("should extract latestDescription from objects", func() {
		Expect(health.NormalizeDescription(map[string]interface{}{"latestDescription": "from object"})).To(Equal("from object"))
	})
	It("should take the first element of lists", func() {
		Expect(health.NormalizeDescription([]interface{}{
			map[string]interface{}{"latestDescription": "from list"},
		})).To(Equal("from list"))
	})
	It("should return empty for nil and empty lists", func() {
		Expect(health.NormalizeDescription(nil)).To(Equal(""))
		Expect(health.NormalizeDescription([]interface{}{})).To(Equal(""))
	})
})

var _ = Describe("ExtractAffectedResources", func() {
	It("should join entity values", func() {
		Expect(health.ExtractAffectedResources([]health.Entity{
			{EntityValue: "i-abc"},
			{EntityValue: "i-def"},
		})).To(Equal("i-abc, i-def"))
	})
	It("should fall back when no entities carry values", func() {
		Expect(health.ExtractAffectedResources(nil)).To(Equal("None specified"))
	})
})
