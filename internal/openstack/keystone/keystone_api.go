// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package keystone

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"

	"github.com/openstack-archive/terracotta/internal/conf"
)

// KeystoneAPI authenticates the Global Manager against the cluster's
// Identity service and locates the Compute (Nova) endpoint.
type KeystoneAPI interface {
	Authenticate(context.Context) error
	Client() *gophercloud.ProviderClient
	FindEndpoint(availability, serviceType string) (string, error)
	Availability() string
}

type keystoneAPI struct {
	client       *gophercloud.ProviderClient
	keystoneConf conf.KeystoneConfig
	httpClient   *http.Client
}

func NewKeystoneAPI(keystoneConf conf.KeystoneConfig) KeystoneAPI {
	return &keystoneAPI{keystoneConf: keystoneConf}
}

func NewKeystoneAPIWithHTTPClient(keystoneConf conf.KeystoneConfig, httpClient *http.Client) KeystoneAPI {
	return &keystoneAPI{keystoneConf: keystoneConf, httpClient: httpClient}
}

// Authenticate against OpenStack keystone. Failure here is fatal at
// startup: the Global Manager cannot place or migrate anything without a
// working cluster connection.
func (api *keystoneAPI) Authenticate(ctx context.Context) error {
	if api.client != nil {
		return nil
	}
	slog.Info("authenticating against openstack", "url", api.keystoneConf.URL)
	authOptions := gophercloud.AuthOptions{
		IdentityEndpoint: api.keystoneConf.URL,
		Username:         api.keystoneConf.OSUsername,
		DomainName:       api.keystoneConf.OSUserDomainName,
		Password:         api.keystoneConf.OSPassword,
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: api.keystoneConf.OSProjectName,
			DomainName:  api.keystoneConf.OSProjectDomainName,
		},
	}
	provider, err := openstack.NewClient(authOptions.IdentityEndpoint)
	if err != nil {
		return err
	}
	if api.httpClient != nil {
		provider.HTTPClient = *api.httpClient
	}
	if err := openstack.Authenticate(ctx, provider, authOptions); err != nil {
		return err
	}
	api.client = provider
	slog.Info("authenticated against openstack")
	return nil
}

func (api *keystoneAPI) FindEndpoint(availability, serviceType string) (string, error) {
	return api.client.EndpointLocator(gophercloud.EndpointOpts{
		Type:         serviceType,
		Availability: gophercloud.Availability(availability),
	})
}

func (api *keystoneAPI) Availability() string {
	return api.keystoneConf.Availability
}

func (api *keystoneAPI) Client() *gophercloud.ProviderClient {
	return api.client
}
