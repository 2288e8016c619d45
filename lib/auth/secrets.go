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

package auth

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gravitational/trace"
)

// SecretSource resolves the shared JWT signing secret.
type SecretSource interface {
	Get(ctx context.Context) (string, error)
}

// StaticSecret is a secret held directly in configuration or environment.
type StaticSecret string

// Get implements SecretSource.
func (s StaticSecret) Get(context.Context) (string, error) {
	if s == "" {
		return "", trace.BadParameter("JWT secret is empty")
	}
	return string(s), nil
}

// ssmAPI is the parameter-store surface used, narrowed for tests.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterStoreSecret resolves the secret from an SSM parameter. The
// value is fetched once and reused for the process lifetime, so a
// rotated parameter takes effect on restart. Parameter-store wins over
// a static secret when both are configured.
type ParameterStoreSecret struct {
	client ssmAPI
	name   string

	once  sync.Once
	value string
	err   error
}

// NewParameterStoreSecret creates a parameter-store secret source.
func NewParameterStoreSecret(client ssmAPI, name string) (*ParameterStoreSecret, error) {
	if client == nil {
		return nil, trace.BadParameter("missing SSM client")
	}
	if name == "" {
		return nil, trace.BadParameter("missing parameter name")
	}
	return &ParameterStoreSecret{client: client, name: name}, nil
}

// Get implements SecretSource.
func (p *ParameterStoreSecret) Get(ctx context.Context) (string, error) {
	p.once.Do(func() {
		out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(p.name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			p.err = trace.Wrap(err, "fetching JWT secret from parameter store")
			return
		}
		if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
			p.err = trace.BadParameter("parameter %s holds no value", p.name)
			return
		}
		p.value = *out.Parameter.Value
	})
	return p.value, trace.Wrap(p.err)
}
