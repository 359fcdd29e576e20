package web

import (
	"encoding/json"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
	"sqlpilot/db"
)

// replaceSchemaHandler stores the schema metadata the browser introspected
// from the user's database
func replaceSchemaHandler(c rweb.Context) error {
	connectionID := c.Request().Param("id")

	var req struct {
		Tables []db.SchemaTable `json:"tables"`
	}
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}

	if err := database.ReplaceSchemaCache(connectionID, req.Tables); err != nil {
		return c.WriteError(err, 500)
	}

	logger.Info("Schema cache replaced", "connectionId", connectionID, "tables", len(req.Tables))
	return c.WriteJSON(map[string]any{"success": true, "tables": len(req.Tables)})
}

// getSchemaHandler returns the cached schema metadata for a connection
func getSchemaHandler(c rweb.Context) error {
	connectionID := c.Request().Param("id")

	tables, err := database.ListSchemaTables(connectionID, nil)
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(tables)
}
