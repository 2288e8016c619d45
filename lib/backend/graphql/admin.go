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

package graphql

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// adminOps implements user, role, policy and SSO management through the
// catalog's admin GraphQL namespace.
type adminOps struct {
	backend *Backend
}

type gqlUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
	IsActive bool   `json:"isActive"`
	Role     *struct {
		Name string `json:"name"`
	} `json:"role"`
}

func (u gqlUser) export() quiltops.User {
	out := quiltops.User{
		Name:    u.Name,
		Email:   u.Email,
		IsAdmin: u.IsAdmin,
		Active:  u.IsActive,
	}
	if u.Role != nil {
		out.Role = u.Role.Name
	}
	return out
}

const usersListQuery = `
query {
  admin {
    user {
      list { name email isAdmin isActive role { name } }
    }
  }
}`

func (a *adminOps) UsersList(ctx context.Context, rc *session.RequestContext) ([]quiltops.User, error) {
	var resp struct {
		Admin struct {
			User struct {
				List []gqlUser `json:"list"`
			} `json:"user"`
		} `json:"admin"`
	}
	if err := a.backend.query(ctx, rc, usersListQuery, nil, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	users := make([]quiltops.User, 0, len(resp.Admin.User.List))
	for _, u := range resp.Admin.User.List {
		users = append(users, u.export())
	}
	return users, nil
}

const userCreateMutation = `
mutation ($input: UserInput!) {
  admin {
    user {
      create(input: $input) {
        __typename
        ... on User { name email isAdmin isActive role { name } }
        ... on InvalidInput { errors { path message } }
        ... on OperationError { message }
      }
    }
  }
}`

func (a *adminOps) UserCreate(ctx context.Context, rc *session.RequestContext, name, email, role string) (*quiltops.User, error) {
	if name == "" || email == "" || role == "" {
		return nil, trace.BadParameter("name, email and role are required")
	}
	var resp struct {
		Admin struct {
			User struct {
				Create struct {
					unionResult
					gqlUser
				} `json:"create"`
			} `json:"user"`
		} `json:"admin"`
	}
	vars := map[string]any{"input": map[string]any{
		"name": name, "email": email, "role": role,
	}}
	if err := a.backend.query(ctx, rc, userCreateMutation, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	created := resp.Admin.User.Create
	if err := created.err("user create"); err != nil {
		return nil, trace.Wrap(err)
	}
	user := created.export()
	return &user, nil
}

const userDeleteMutation = `
mutation ($name: String!) {
  admin {
    user {
      mutate(name: $name) {
        delete {
          __typename
          ... on InvalidInput { errors { path message } }
          ... on OperationError { message }
        }
      }
    }
  }
}`

func (a *adminOps) UserDelete(ctx context.Context, rc *session.RequestContext, name string) error {
	if name == "" {
		return trace.BadParameter("name is required")
	}
	var resp struct {
		Admin struct {
			User struct {
				Mutate *struct {
					Delete unionResult `json:"delete"`
				} `json:"mutate"`
			} `json:"user"`
		} `json:"admin"`
	}
	vars := map[string]any{"name": name}
	if err := a.backend.query(ctx, rc, userDeleteMutation, vars, &resp); err != nil {
		return trace.Wrap(err)
	}
	if resp.Admin.User.Mutate == nil {
		return trace.NotFound("user %q not found", name)
	}
	return trace.Wrap(resp.Admin.User.Mutate.Delete.err("user delete"))
}

type gqlRole struct {
	Typename string `json:"__typename"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	ARN      string `json:"arn"`
	Policies []struct {
		ID string `json:"id"`
	} `json:"policies"`
}

func (r gqlRole) export() quiltops.Role {
	out := quiltops.Role{
		ID:      r.ID,
		Name:    r.Name,
		ARN:     r.ARN,
		Managed: r.Typename == "ManagedRole",
	}
	for _, p := range r.Policies {
		out.Policies = append(out.Policies, p.ID)
	}
	return out
}

const rolesListQuery = `
query {
  roles {
    __typename
    ... on ManagedRole { id name policies { id } }
    ... on UnmanagedRole { id name arn }
  }
}`

func (a *adminOps) RolesList(ctx context.Context, rc *session.RequestContext) ([]quiltops.Role, error) {
	var resp struct {
		Roles []gqlRole `json:"roles"`
	}
	if err := a.backend.query(ctx, rc, rolesListQuery, nil, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	roles := make([]quiltops.Role, 0, len(resp.Roles))
	for _, r := range resp.Roles {
		roles = append(roles, r.export())
	}
	return roles, nil
}

const roleCreateManagedMutation = `
mutation ($input: ManagedRoleInput!) {
  roleCreateManaged(input: $input) {
    __typename
    ... on RoleCreateSuccess { role { ... on ManagedRole { id name policies { id } } } }
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

const roleCreateUnmanagedMutation = `
mutation ($input: UnmanagedRoleInput!) {
  roleCreateUnmanaged(input: $input) {
    __typename
    ... on RoleCreateSuccess { role { ... on UnmanagedRole { id name arn } } }
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

// RoleCreate creates a managed role from policies, or an unmanaged role
// from an IAM role ARN. Exactly one of the two shapes must be supplied.
func (a *adminOps) RoleCreate(ctx context.Context, rc *session.RequestContext, name string, policyIDs []string, arn string) (*quiltops.Role, error) {
	if name == "" {
		return nil, trace.BadParameter("role name is required")
	}
	if (len(policyIDs) > 0) == (arn != "") {
		return nil, trace.BadParameter("supply either policy IDs (managed) or an ARN (unmanaged), not both")
	}

	var resp struct {
		RoleCreateManaged *struct {
			unionResult
			Role *gqlRole `json:"role"`
		} `json:"roleCreateManaged"`
		RoleCreateUnmanaged *struct {
			unionResult
			Role *gqlRole `json:"role"`
		} `json:"roleCreateUnmanaged"`
	}
	if arn != "" {
		vars := map[string]any{"input": map[string]any{"name": name, "arn": arn}}
		if err := a.backend.query(ctx, rc, roleCreateUnmanagedMutation, vars, &resp); err != nil {
			return nil, trace.Wrap(err)
		}
		created := resp.RoleCreateUnmanaged
		if created == nil {
			return nil, trace.Errorf("role create returned no result")
		}
		if err := created.err("role create"); err != nil {
			return nil, trace.Wrap(err)
		}
		if created.Role == nil {
			return nil, trace.Errorf("role create returned no role")
		}
		role := created.Role.export()
		return &role, nil
	}
	vars := map[string]any{"input": map[string]any{"name": name, "policies": policyIDs}}
	if err := a.backend.query(ctx, rc, roleCreateManagedMutation, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	created := resp.RoleCreateManaged
	if created == nil {
		return nil, trace.Errorf("role create returned no result")
	}
	if err := created.err("role create"); err != nil {
		return nil, trace.Wrap(err)
	}
	if created.Role == nil {
		return nil, trace.Errorf("role create returned no role")
	}
	role := created.Role.export()
	return &role, nil
}

const roleDeleteMutation = `
mutation ($id: ID!) {
  roleDelete(id: $id) {
    __typename
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

func (a *adminOps) RoleDelete(ctx context.Context, rc *session.RequestContext, id string) error {
	if id == "" {
		return trace.BadParameter("role id is required")
	}
	var resp struct {
		RoleDelete unionResult `json:"roleDelete"`
	}
	if err := a.backend.query(ctx, rc, roleDeleteMutation, map[string]any{"id": id}, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.RoleDelete.err("role delete"))
}

type gqlPolicy struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ARN         string `json:"arn"`
	Permissions []struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Level string `json:"level"`
	} `json:"permissions"`
	Roles []struct {
		ID string `json:"id"`
	} `json:"roles"`
}

func (p gqlPolicy) export() quiltops.Policy {
	out := quiltops.Policy{
		ID:        p.ID,
		Title:     p.Title,
		ARN:       p.ARN,
		Managed:   p.ARN == "",
		RoleCount: len(p.Roles),
	}
	for _, perm := range p.Permissions {
		out.Permissions = append(out.Permissions, quiltops.BucketPermission{
			Bucket: perm.Bucket.Name,
			Level:  quiltops.BucketPermissionLevel(perm.Level),
		})
	}
	return out
}

const policiesListQuery = `
query {
  policies {
    id title arn
    permissions { bucket { name } level }
    roles { id }
  }
}`

func (a *adminOps) PoliciesList(ctx context.Context, rc *session.RequestContext) ([]quiltops.Policy, error) {
	var resp struct {
		Policies []gqlPolicy `json:"policies"`
	}
	if err := a.backend.query(ctx, rc, policiesListQuery, nil, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	policies := make([]quiltops.Policy, 0, len(resp.Policies))
	for _, p := range resp.Policies {
		policies = append(policies, p.export())
	}
	return policies, nil
}

const policyCreateManagedMutation = `
mutation ($input: ManagedPolicyInput!) {
  policyCreateManaged(input: $input) {
    __typename
    ... on Policy { id title permissions { bucket { name } level } }
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

const policyCreateUnmanagedMutation = `
mutation ($input: UnmanagedPolicyInput!) {
  policyCreateUnmanaged(input: $input) {
    __typename
    ... on Policy { id title arn }
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

// PolicyCreate creates a managed policy from bucket permissions, or an
// unmanaged policy from an IAM policy ARN.
func (a *adminOps) PolicyCreate(ctx context.Context, rc *session.RequestContext, title string, permissions []quiltops.BucketPermission, arn string) (*quiltops.Policy, error) {
	if title == "" {
		return nil, trace.BadParameter("policy title is required")
	}
	if (len(permissions) > 0) == (arn != "") {
		return nil, trace.BadParameter("supply either bucket permissions (managed) or an ARN (unmanaged), not both")
	}

	var resp struct {
		PolicyCreateManaged *struct {
			unionResult
			gqlPolicy
		} `json:"policyCreateManaged"`
		PolicyCreateUnmanaged *struct {
			unionResult
			gqlPolicy
		} `json:"policyCreateUnmanaged"`
	}
	if arn != "" {
		vars := map[string]any{"input": map[string]any{"title": title, "arn": arn}}
		if err := a.backend.query(ctx, rc, policyCreateUnmanagedMutation, vars, &resp); err != nil {
			return nil, trace.Wrap(err)
		}
		created := resp.PolicyCreateUnmanaged
		if created == nil {
			return nil, trace.Errorf("policy create returned no result")
		}
		if err := created.err("policy create"); err != nil {
			return nil, trace.Wrap(err)
		}
		policy := created.export()
		return &policy, nil
	}

	perms := make([]map[string]any, 0, len(permissions))
	for _, p := range permissions {
		perms = append(perms, map[string]any{"bucket": p.Bucket, "level": string(p.Level)})
	}
	vars := map[string]any{"input": map[string]any{"title": title, "permissions": perms}}
	if err := a.backend.query(ctx, rc, policyCreateManagedMutation, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	created := resp.PolicyCreateManaged
	if created == nil {
		return nil, trace.Errorf("policy create returned no result")
	}
	if err := created.err("policy create"); err != nil {
		return nil, trace.Wrap(err)
	}
	policy := created.export()
	return &policy, nil
}

const policyDeleteMutation = `
mutation ($id: ID!) {
  policyDelete(id: $id) {
    __typename
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

// PolicyDelete refuses while the policy is attached to any role. The
// attachment check runs first so the caller gets a clear IN_USE rather
// than a generic catalog error.
func (a *adminOps) PolicyDelete(ctx context.Context, rc *session.RequestContext, id string) error {
	if id == "" {
		return trace.BadParameter("policy id is required")
	}
	policies, err := a.PoliciesList(ctx, rc)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, p := range policies {
		if p.ID == id && p.RoleCount > 0 {
			return quilterr.New(quilterr.KindInUse,
				"policy %q is attached to %d role(s)", p.Title, p.RoleCount).
				WithHint("detach the policy from its roles before deleting it")
		}
	}

	var resp struct {
		PolicyDelete unionResult `json:"policyDelete"`
	}
	if err := a.backend.query(ctx, rc, policyDeleteMutation, map[string]any{"id": id}, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.PolicyDelete.err("policy delete"))
}

const ssoConfigQuery = `
query {
  admin {
    ssoConfig { text timestamp uploadedBy { name } }
  }
}`

type gqlSSOConfig struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	UploadedBy *struct {
		Name string `json:"name"`
	} `json:"uploadedBy"`
}

func (s *gqlSSOConfig) export() *quiltops.SSOConfig {
	out := &quiltops.SSOConfig{Text: s.Text, Timestamp: s.Timestamp}
	if s.UploadedBy != nil {
		out.UploadedBy = s.UploadedBy.Name
	}
	return out
}

func (a *adminOps) SSOConfigGet(ctx context.Context, rc *session.RequestContext) (*quiltops.SSOConfig, error) {
	var resp struct {
		Admin struct {
			SSOConfig *gqlSSOConfig `json:"ssoConfig"`
		} `json:"admin"`
	}
	if err := a.backend.query(ctx, rc, ssoConfigQuery, nil, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Admin.SSOConfig == nil {
		return nil, trace.NotFound("no SSO configuration is set")
	}
	return resp.Admin.SSOConfig.export(), nil
}

const ssoConfigSetMutation = `
mutation ($config: String) {
  admin {
    setSsoConfig(config: $config) {
      __typename
      ... on SsoConfig { text timestamp uploadedBy { name } }
      ... on InvalidInput { errors { path message } }
      ... on OperationError { message }
    }
  }
}`

func (a *adminOps) SSOConfigSet(ctx context.Context, rc *session.RequestContext, text string) (*quiltops.SSOConfig, error) {
	var resp struct {
		Admin struct {
			SetSsoConfig *struct {
				unionResult
				gqlSSOConfig
			} `json:"setSsoConfig"`
		} `json:"admin"`
	}
	vars := map[string]any{"config": text}
	if err := a.backend.query(ctx, rc, ssoConfigSetMutation, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Admin.SetSsoConfig == nil {
		// A null result acknowledges removal when text is empty.
		return &quiltops.SSOConfig{}, nil
	}
	if err := resp.Admin.SetSsoConfig.err("SSO config set"); err != nil {
		return nil, trace.Wrap(err)
	}
	return resp.Admin.SetSsoConfig.export(), nil
}

var _ quiltops.AdminOps = (*adminOps)(nil)
