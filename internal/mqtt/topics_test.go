// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import "testing"

func TestTopicNaming(t *testing.T) {
	if underloadTopic("terracotta") != "terracotta/underload" {
		t.Fatalf("unexpected underload topic: %s", underloadTopic("terracotta"))
	}
	if overloadTopic("terracotta") != "terracotta/overload" {
		t.Fatalf("unexpected overload topic: %s", overloadTopic("terracotta"))
	}
}
