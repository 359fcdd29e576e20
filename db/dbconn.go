package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// Connection is a descriptor of a user's external database connection.
// The live credentials never reach the server; SQL runs in the browser.
type Connection struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Driver    string    `json:"driver"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	Database  string    `json:"database,omitempty"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateConnection inserts a new connection descriptor
func (db *DB) CreateConnection(conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO connections (id, user_id, name, driver, host, port, database_name, username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.UserID, conn.Name, conn.Driver, conn.Host, conn.Port,
		conn.Database, conn.Username, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return serr.Wrap(err, "failed to create connection")
	}
	return nil
}

// GetConnection returns one connection descriptor by id
func (db *DB) GetConnection(id string) (*Connection, error) {
	row := db.conn.QueryRow(`
		SELECT id, user_id, name, driver, host, port, database_name, username, created_at, updated_at
		FROM connections WHERE id = ?`, id)

	conn := &Connection{}
	var host, database, username sql.NullString
	var port sql.NullInt64
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Name, &conn.Driver,
		&host, &port, &database, &username, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, serr.New("connection not found")
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get connection")
	}
	conn.Host = host.String
	conn.Port = int(port.Int64)
	conn.Database = database.String
	conn.Username = username.String
	return conn, nil
}

// ListConnections returns all connection descriptors for a user
func (db *DB) ListConnections(userID string) ([]*Connection, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, name, driver, host, port, database_name, username, created_at, updated_at
		FROM connections WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list connections")
	}
	defer rows.Close()

	connections := make([]*Connection, 0)
	for rows.Next() {
		conn := &Connection{}
		var host, database, username sql.NullString
		var port sql.NullInt64
		if err := rows.Scan(&conn.ID, &conn.UserID, &conn.Name, &conn.Driver,
			&host, &port, &database, &username, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan connection")
		}
		conn.Host = host.String
		conn.Port = int(port.Int64)
		conn.Database = database.String
		conn.Username = username.String
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// UpdateConnection updates the mutable fields of a connection descriptor
func (db *DB) UpdateConnection(conn *Connection) error {
	conn.UpdatedAt = time.Now()
	result, err := db.conn.Exec(`
		UPDATE connections SET name = ?, driver = ?, host = ?, port = ?,
			database_name = ?, username = ?, updated_at = ?
		WHERE id = ?`,
		conn.Name, conn.Driver, conn.Host, conn.Port, conn.Database,
		conn.Username, conn.UpdatedAt, conn.ID)
	if err != nil {
		return serr.Wrap(err, "failed to update connection")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return serr.New("connection not found")
	}
	return nil
}

// DeleteConnection removes a connection descriptor and its cached schema
func (db *DB) DeleteConnection(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM schema_tables WHERE connection_id = ?`, id); err != nil {
		return serr.Wrap(err, "failed to delete cached schema")
	}
	if _, err := db.conn.Exec(`DELETE FROM connections WHERE id = ?`, id); err != nil {
		return serr.Wrap(err, "failed to delete connection")
	}
	return nil
}
