package web

import (
	"encoding/json"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
	"sqlpilot/db"
)

// listConnectionsHandler returns the caller's connection descriptors
func listConnectionsHandler(c rweb.Context) error {
	userID := c.Request().QueryParam("userId")
	if userID == "" {
		return c.WriteError(serr.New("userId is required"), 400)
	}

	connections, err := database.ListConnections(userID)
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(connections)
}

// createConnectionHandler stores a new connection descriptor
func createConnectionHandler(c rweb.Context) error {
	var conn db.Connection
	if err := json.Unmarshal(c.Request().Body(), &conn); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if conn.UserID == "" || conn.Name == "" || conn.Driver == "" {
		return c.WriteError(serr.New("userId, name and driver are required"), 400)
	}

	if err := database.CreateConnection(&conn); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(conn)
}

// getConnectionHandler returns one connection descriptor
func getConnectionHandler(c rweb.Context) error {
	conn, err := database.GetConnection(c.Request().Param("id"))
	if err != nil {
		return c.WriteError(err, 404)
	}
	return c.WriteJSON(conn)
}

// updateConnectionHandler updates a connection descriptor
func updateConnectionHandler(c rweb.Context) error {
	var conn db.Connection
	if err := json.Unmarshal(c.Request().Body(), &conn); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	conn.ID = c.Request().Param("id")

	if err := database.UpdateConnection(&conn); err != nil {
		return c.WriteError(err, 404)
	}
	return c.WriteJSON(conn)
}

// deleteConnectionHandler removes a connection descriptor and its cached
// schema
func deleteConnectionHandler(c rweb.Context) error {
	if err := database.DeleteConnection(c.Request().Param("id")); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}
