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

package athenaops

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/gravitational/trace"
)

// Workgroup is one visible Athena workgroup.
type Workgroup struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
}

// WorkgroupsList returns the workgroups visible to the credentials.
func (o *Ops) WorkgroupsList(ctx context.Context) ([]Workgroup, error) {
	var groups []Workgroup
	var next *string
	for {
		out, err := o.athena.ListWorkGroups(ctx, &athena.ListWorkGroupsInput{NextToken: next})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, wg := range out.WorkGroups {
			groups = append(groups, Workgroup{
				Name:        aws.ToString(wg.Name),
				Description: aws.ToString(wg.Description),
				State:       string(wg.State),
			})
		}
		if out.NextToken == nil {
			return groups, nil
		}
		next = out.NextToken
	}
}

// DiscoverWorkgroup picks the workgroup to run in: an explicit preference
// wins if usable, then "primary", then any enabled workgroup with names
// containing "quilt" preferred.
func (o *Ops) DiscoverWorkgroup(ctx context.Context, preferred string) (string, error) {
	if preferred != "" {
		if o.workgroupUsable(ctx, preferred) {
			return preferred, nil
		}
		return "", trace.NotFound("workgroup %q is not usable with these credentials", preferred)
	}
	if o.workgroupUsable(ctx, "primary") {
		return "primary", nil
	}

	groups, err := o.WorkgroupsList(ctx)
	if err != nil {
		return "", trace.Wrap(err)
	}
	var fallback string
	for _, wg := range groups {
		if wg.State != string(athenatypes.WorkGroupStateEnabled) {
			continue
		}
		if strings.Contains(strings.ToLower(wg.Name), "quilt") {
			return wg.Name, nil
		}
		if fallback == "" {
			fallback = wg.Name
		}
	}
	if fallback == "" {
		return "", trace.NotFound("no enabled Athena workgroup is visible to these credentials")
	}
	return fallback, nil
}

// workgroupUsable checks that a workgroup exists, is enabled and can be
// described with these credentials.
func (o *Ops) workgroupUsable(ctx context.Context, name string) bool {
	out, err := o.athena.GetWorkGroup(ctx, &athena.GetWorkGroupInput{
		WorkGroup: aws.String(name),
	})
	if err != nil || out.WorkGroup == nil {
		return false
	}
	return out.WorkGroup.State == athenatypes.WorkGroupStateEnabled
}
