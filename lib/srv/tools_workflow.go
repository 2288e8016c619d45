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
	"github.com/quiltdata/quilt-mcp-server/lib/session"
	"github.com/quiltdata/quilt-mcp-server/lib/workflow"
)

// Workflow tools are registered on the legacy deployment only. The store
// is process-local and lost on restart, which the descriptions state so
// agents do not treat it as durable.
func (s *Server) registerWorkflowTools() {
	s.register(mcp.NewTool("workflow_create",
		mcp.WithDescription("Track a new multi-step workflow in this server's memory. State does not survive a restart."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workflow id, unique per server")),
		mcp.WithString("template", mcp.Description("Template name")),
		mcp.WithObject("metadata", mcp.Description("Arbitrary metadata")),
	), s.handleWorkflowCreate)

	s.register(mcp.NewTool("workflow_get",
		mcp.WithDescription("Return one tracked workflow with its steps."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workflow id")),
	), s.handleWorkflowGet)

	s.register(mcp.NewTool("workflow_list",
		mcp.WithDescription("List tracked workflows, newest first."),
	), s.handleWorkflowList)

	s.register(mcp.NewTool("workflow_status_set",
		mcp.WithDescription("Advance a workflow: pending to running or failed, running to completed or failed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("pending, running, completed or failed")),
	), s.handleWorkflowStatusSet)

	s.register(mcp.NewTool("workflow_step_add",
		mcp.WithDescription("Record a step on a pending or running workflow."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Step name")),
		mcp.WithString("detail", mcp.Description("Free-form detail")),
	), s.handleWorkflowStepAdd)

	s.register(mcp.NewTool("workflow_delete",
		mcp.WithDescription("Stop tracking a workflow."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workflow id")),
	), s.handleWorkflowDelete)
}

func (s *Server) handleWorkflowCreate(ctx context.Context, _ *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var args struct {
		Template string         `json:"template"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := bindArguments(req, &args); err != nil {
		return nil, trace.Wrap(err)
	}
	rec, err := s.cfg.Workflows.Create(id, args.Template, args.Metadata)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

func (s *Server) handleWorkflowGet(ctx context.Context, _ *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rec, err := s.cfg.Workflows.Get(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

func (s *Server) handleWorkflowList(context.Context, *session.RequestContext, mcp.CallToolRequest) (any, error) {
	return map[string]any{"workflows": s.cfg.Workflows.List()}, nil
}

func (s *Server) handleWorkflowStatusSet(ctx context.Context, _ *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	status, err := requireString(req, "status")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch workflow.Status(status) {
	case workflow.StatusPending, workflow.StatusRunning, workflow.StatusCompleted, workflow.StatusFailed:
	default:
		return nil, quilterr.New(quilterr.KindValidationFailed,
			"status must be pending, running, completed or failed; got %q", status)
	}
	rec, err := s.cfg.Workflows.SetStatus(id, workflow.Status(status))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

func (s *Server) handleWorkflowStepAdd(ctx context.Context, _ *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	name, err := requireString(req, "name")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rec, err := s.cfg.Workflows.AddStep(id, name, req.GetString("detail", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

func (s *Server) handleWorkflowDelete(ctx context.Context, _ *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Workflows.Delete(id); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"deleted": true, "id": id}, nil
}
