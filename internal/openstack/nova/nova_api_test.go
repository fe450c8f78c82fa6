// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package nova

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
)

func TestGetHypervisorUsedRAM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/os-hypervisors/detail" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hypervisors": [
				{"hypervisor_hostname": "host1", "memory_mb_used": 1024},
				{"hypervisor_hostname": "host2", "memory_mb_used": 2048}
			]
		}`))
	}))
	defer server.Close()

	api := &novaAPI{
		sc: &gophercloud.ServiceClient{
			ProviderClient: &gophercloud.ProviderClient{HTTPClient: *server.Client(), TokenID: "token"},
			Endpoint:       server.URL + "/",
			Microversion:   "2.53",
		},
	}

	usedRAM, err := api.GetHypervisorUsedRAM(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if usedRAM["host1"] != 1024 || usedRAM["host2"] != 2048 {
		t.Fatalf("unexpected result: %v", usedRAM)
	}
}
