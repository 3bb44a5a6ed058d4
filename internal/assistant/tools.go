package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/models"
)

func commandNames() []string {
	names := make([]string, len(models.Commands))
	for i, c := range models.Commands {
		names[i] = string(c)
	}
	return names
}

// registerTools registers the fleet tools.
func (s *Server) registerTools() {
	listDronesTool := mcp.NewTool("list_drones",
		mcp.WithDescription("List every known drone with its last reported state"),
		mcp.WithString("status",
			mcp.Description("Only return drones in this status"),
			mcp.Enum("idle", "active", "paused", "returning", "error", "offline"),
		),
	)
	s.mcpServer.AddTool(listDronesTool, s.handleListDrones)

	getDroneTool := mcp.NewTool("get_drone",
		mcp.WithDescription("Get the last reported state of one drone"),
		mcp.WithString("drone_id",
			mcp.Required(),
			mcp.Description("Drone identifier"),
		),
	)
	s.mcpServer.AddTool(getDroneTool, s.handleGetDrone)

	validateTool := mcp.NewTool("validate_command",
		mcp.WithDescription("Check whether a command would be accepted for a drone without sending it"),
		mcp.WithString("drone_id", mcp.Required(), mcp.Description("Drone identifier")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command name"), mcp.Enum(commandNames()...)),
		mcp.WithObject("params", mcp.Description(`Command parameters, e.g. {"target":{"lat":59.9,"lng":10.7}} for move or {"depth":120} for dive`)),
	)
	s.mcpServer.AddTool(validateTool, s.handleValidateCommand)

	sendTool := mcp.NewTool("send_command",
		mcp.WithDescription("Send a command to a drone. Success means the command was sent, not that the drone carried it out"),
		mcp.WithString("drone_id", mcp.Required(), mcp.Description("Drone identifier")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command name"), mcp.Enum(commandNames()...)),
		mcp.WithObject("params", mcp.Description("Command parameters")),
	)
	s.mcpServer.AddTool(sendTool, s.handleSendCommand)
}

func (s *Server) handleListDrones(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.DroneStatus(request.GetString("status", ""))

	drones := s.coordinator.GetDrones()
	if status != "" {
		filtered := drones[:0]
		for _, d := range drones {
			if d.Status == status {
				filtered = append(filtered, d)
			}
		}
		drones = filtered
	}

	return jsonResult(map[string]interface{}{
		"drones": drones,
		"count":  len(drones),
	})
}

func (s *Server) handleGetDrone(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("drone_id")
	if err != nil {
		return mcp.NewToolResultError("drone_id is required and must be a string"), nil
	}

	drone, ok := s.coordinator.GetDrone(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("drone %s not found", id)), nil
	}
	return jsonResult(drone)
}

func (s *Server) handleValidateCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, command, params, errResult := commandArgs(request)
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(s.coordinator.ValidateCommand(id, command, params))
}

func (s *Server) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, command, params, errResult := commandArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	resp := s.coordinator.SendCommand(ctx, id, command, params)
	s.logger.Info().
		Str("drone_id", id).
		Str("command", string(command)).
		Bool("success", resp.Success).
		Msg("Assistant command handled")

	if !resp.Success {
		msg := resp.Message
		if len(resp.Errors) > 0 {
			msg = constants.MsgValidationRejected + ":\n- " + strings.Join(resp.Errors, "\n- ")
		}
		return mcp.NewToolResultError(msg), nil
	}
	return jsonResult(resp)
}

func commandArgs(request mcp.CallToolRequest) (string, models.Command, models.CommandParams, *mcp.CallToolResult) {
	id, err := request.RequireString("drone_id")
	if err != nil {
		return "", "", nil, mcp.NewToolResultError("drone_id is required and must be a string")
	}
	command, err := request.RequireString("command")
	if err != nil {
		return "", "", nil, mcp.NewToolResultError("command is required and must be a string")
	}

	var params models.CommandParams
	if raw, ok := request.GetArguments()["params"]; ok && raw != nil {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return "", "", nil, mcp.NewToolResultError("params must be an object")
		}
		params = models.CommandParams(m)
	}
	return id, models.Command(command), params, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
