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

package srv

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

func (s *Server) registerAdminTools() {
	s.register(mcp.NewTool("admin_users_list",
		mcp.WithDescription("List catalog users."),
	), s.handleAdminUsersList)

	s.register(mcp.NewTool("admin_user_create",
		mcp.WithDescription("Create a catalog user with an initial role."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Username")),
		mcp.WithString("email", mcp.Required(), mcp.Description("Email address")),
		mcp.WithString("role", mcp.Required(), mcp.Description("Initial role name")),
	), s.handleAdminUserCreate)

	s.register(mcp.NewTool("admin_user_delete",
		mcp.WithDescription("Delete a catalog user."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Username")),
	), s.handleAdminUserDelete)

	s.register(mcp.NewTool("admin_roles_list",
		mcp.WithDescription("List catalog roles, managed and unmanaged."),
	), s.handleAdminRolesList)

	s.register(mcp.NewTool("admin_role_create",
		mcp.WithDescription("Create a role: managed from policy ids, or unmanaged from an IAM role ARN. Exactly one of policy_ids and arn."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Role name")),
		mcp.WithArray("policy_ids", mcp.Description("Policy ids composing a managed role"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("arn", mcp.Description("IAM role ARN for an unmanaged role")),
	), s.handleAdminRoleCreate)

	s.register(mcp.NewTool("admin_role_delete",
		mcp.WithDescription("Delete a role by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Role id")),
	), s.handleAdminRoleDelete)

	s.register(mcp.NewTool("admin_policies_list",
		mcp.WithDescription("List catalog policies with their role attachment counts."),
	), s.handleAdminPoliciesList)

	s.register(mcp.NewTool("admin_policy_create",
		mcp.WithDescription("Create a policy: managed from bucket permission grants, or unmanaged from an IAM policy ARN. Exactly one of permissions and arn."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Policy title")),
		mcp.WithArray("permissions", mcp.Description("Grants: {bucket, level} with level READ or READ_WRITE"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"bucket": map[string]any{"type": "string"},
					"level":  map[string]any{"type": "string"},
				},
				"required": []string{"bucket", "level"},
			})),
		mcp.WithString("arn", mcp.Description("IAM policy ARN for an unmanaged policy")),
	), s.handleAdminPolicyCreate)

	s.register(mcp.NewTool("admin_policy_delete",
		mcp.WithDescription("Delete a policy by id. Refused while the policy is attached to any role."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Policy id")),
	), s.handleAdminPolicyDelete)

	s.register(mcp.NewTool("admin_sso_config_get",
		mcp.WithDescription("Return the catalog's SSO configuration document."),
	), s.handleAdminSSOConfigGet)

	s.register(mcp.NewTool("admin_sso_config_set",
		mcp.WithDescription("Replace the catalog's SSO configuration. An empty text removes it."),
		mcp.WithString("text", mcp.Description("SSO config document; empty removes the config")),
	), s.handleAdminSSOConfigSet)
}

// admin resolves the admin surface; backends without one answer with the
// stable method-not-found kind.
func (s *Server) admin() (quiltops.AdminOps, error) {
	admin, err := s.cfg.Ops.Admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return admin, nil
}

func (s *Server) handleAdminUsersList(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	users, err := admin.UsersList(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"users": users}, nil
}

func (s *Server) handleAdminUserCreate(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	email, err := requireString(req, "email")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	role, err := requireString(req, "role")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := admin.UserCreate(ctx, rc, name, email, role)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

func (s *Server) handleAdminUserDelete(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := admin.UserDelete(ctx, rc, name); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"deleted": true, "name": name}, nil
}

func (s *Server) handleAdminRolesList(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	roles, err := admin.RolesList(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"roles": roles}, nil
}

func (s *Server) handleAdminRoleCreate(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	policyIDs := req.GetStringSlice("policy_ids", nil)
	arn := req.GetString("arn", "")
	if (len(policyIDs) == 0) == (arn == "") {
		return nil, quilterr.New(quilterr.KindValidationFailed,
			"exactly one of policy_ids and arn is required")
	}
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	role, err := admin.RoleCreate(ctx, rc, name, policyIDs, arn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return role, nil
}

func (s *Server) handleAdminRoleDelete(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := admin.RoleDelete(ctx, rc, id); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"deleted": true, "id": id}, nil
}

func (s *Server) handleAdminPoliciesList(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	policies, err := admin.PoliciesList(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"policies": policies}, nil
}

func (s *Server) handleAdminPolicyCreate(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	var args struct {
		Title       string                      `json:"title"`
		Permissions []quiltops.BucketPermission `json:"permissions"`
		ARN         string                      `json:"arn"`
	}
	if err := bindArguments(req, &args); err != nil {
		return nil, trace.Wrap(err)
	}
	if args.Title == "" {
		return nil, quilterr.New(quilterr.KindValidationFailed, "title is required")
	}
	if (len(args.Permissions) == 0) == (args.ARN == "") {
		return nil, quilterr.New(quilterr.KindValidationFailed,
			"exactly one of permissions and arn is required")
	}
	for _, p := range args.Permissions {
		if p.Level != quiltops.LevelRead && p.Level != quiltops.LevelReadWrite {
			return nil, quilterr.New(quilterr.KindValidationFailed,
				"permission level must be READ or READ_WRITE; got %q", p.Level)
		}
	}
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	policy, err := admin.PolicyCreate(ctx, rc, args.Title, args.Permissions, args.ARN)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return policy, nil
}

func (s *Server) handleAdminPolicyDelete(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := admin.PolicyDelete(ctx, rc, id); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"deleted": true, "id": id}, nil
}

func (s *Server) handleAdminSSOConfigGet(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg, err := admin.SSOConfigGet(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

func (s *Server) handleAdminSSOConfigSet(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	admin, err := s.admin()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg, err := admin.SSOConfigSet(ctx, rc, req.GetString("text", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}
