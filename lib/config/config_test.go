/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
)

func TestPresetExpansion(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantBackend   BackendKind
		wantTransport TransportKind
		wantErr       bool
	}{
		{
			name:          "default is local",
			cfg:           Config{CatalogURL: "https://demo.quiltdata.com"},
			wantBackend:   BackendGraphQL,
			wantTransport: TransportStdio,
		},
		{
			name:          "remote expands to graphql over http",
			cfg:           Config{Deployment: ModeRemote, CatalogURL: "https://demo.quiltdata.com"},
			wantBackend:   BackendGraphQL,
			wantTransport: TransportHTTP,
		},
		{
			name:          "legacy expands to direct over stdio",
			cfg:           Config{Deployment: ModeLegacy},
			wantBackend:   BackendDirect,
			wantTransport: TransportStdio,
		},
		{
			name:          "explicit backend wins over preset",
			cfg:           Config{Deployment: ModeLocal, Backend: BackendDirect},
			wantBackend:   BackendDirect,
			wantTransport: TransportStdio,
		},
		{
			name:          "explicit transport wins over preset",
			cfg:           Config{Deployment: ModeLegacy, Transport: TransportHTTP},
			wantBackend:   BackendDirect,
			wantTransport: TransportHTTP,
		},
		{
			name:    "unknown deployment rejected",
			cfg:     Config{Deployment: "cloud"},
			wantErr: true,
		},
		{
			name:    "unknown backend rejected",
			cfg:     Config{Backend: "rest"},
			wantErr: true,
		},
		{
			name:    "unknown transport rejected",
			cfg:     Config{Transport: "websocket"},
			wantErr: true,
		},
		{
			name:    "remote cannot use stdio",
			cfg:     Config{Deployment: ModeRemote, Transport: TransportStdio, CatalogURL: "https://demo.quiltdata.com"},
			wantErr: true,
		},
		{
			name:    "graphql backend requires a catalog",
			cfg:     Config{Deployment: ModeLocal},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.CheckAndSetDefaults()
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, quilterr.IsKind(err, quilterr.KindConfigInvalid),
					"want CONFIG_INVALID, got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantBackend, tt.cfg.ResolvedBackend())
			require.Equal(t, tt.wantTransport, tt.cfg.ResolvedTransport())
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Config{Deployment: ModeLegacy}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, defaults.HTTPListenAddr, cfg.ListenAddr)
	require.Equal(t, defaults.ServiceTimeout, cfg.ServiceTimeout)
}

func TestRegistryURLDefaultsToCatalog(t *testing.T) {
	cfg := Config{CatalogURL: "https://demo.quiltdata.com"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "https://demo.quiltdata.com", cfg.RegistryURL)
}

func TestApplyEnvRespectsFlags(t *testing.T) {
	t.Setenv(EnvDeployment, "remote")
	t.Setenv(EnvCatalogURL, "https://env.quiltdata.com")
	t.Setenv(EnvServiceTimeout, "30")

	// Flags parsed before ApplyEnv keep their values.
	cfg := Config{Deployment: ModeLegacy, ServiceTimeout: time.Minute}
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, ModeLegacy, cfg.Deployment)
	require.Equal(t, time.Minute, cfg.ServiceTimeout)
	require.Equal(t, "https://env.quiltdata.com", cfg.CatalogURL)

	// Unset fields fill from the environment.
	cfg = Config{}
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, ModeRemote, cfg.Deployment)
	require.Equal(t, 30*time.Second, cfg.ServiceTimeout)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Setenv(EnvServiceTimeout, "soon")
	cfg := Config{}
	err := cfg.ApplyEnv()
	require.Error(t, err)
	require.True(t, quilterr.IsKind(err, quilterr.KindConfigInvalid))

	t.Setenv(EnvServiceTimeout, "")
	t.Setenv(EnvRequireJWT, "perhaps")
	cfg = Config{}
	err = cfg.ApplyEnv()
	require.Error(t, err)
	require.True(t, quilterr.IsKind(err, quilterr.KindConfigInvalid))
}
