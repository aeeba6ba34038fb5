package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document update conflict")
)

const (
	docTypeDevice               = "device"
	docTypeLocation             = "location"
	docTypeGeofence             = "geofence"
	docTypeGeofenceHistory      = "geofence_history"
	docTypePendingCommand       = "pending_command"
	docTypeNotificationSettings = "notification_settings"
)

func docID(docType, id string) string {
	return fmt.Sprintf("%s:%s", docType, id)
}

// mapError translates CouchDB status codes into repository errors.
func mapError(err error, action string) error {
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", action, ErrConflict)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func isNotFound(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusNotFound
}

// currentRev returns the latest revision of a document.
func currentRev(ctx context.Context, db *kivik.DB, id string) (string, error) {
	var meta struct {
		Rev string `json:"_rev"`
	}
	if err := db.Get(ctx, id).ScanDoc(&meta); err != nil {
		return "", err
	}
	return meta.Rev, nil
}

// findPageSize bounds one _find round trip when a query wants every match.
const findPageSize = 200

const designDoc = "findsafe"

type sortDirection string

const (
	ascending  sortDirection = "asc"
	descending sortDirection = "desc"
)

// findQuery is a Mango query. Sort names index fields in index order, all in
// Direction. Limit caps the result; zero pages through every match.
type findQuery struct {
	Selector  map[string]interface{}
	Index     string
	Sort      []string
	Direction sortDirection
	Limit     int
}

func (q findQuery) body(limit int, bookmark string) map[string]interface{} {
	body := map[string]interface{}{
		"selector": q.Selector,
		"limit":    limit,
	}
	if q.Index != "" {
		body["use_index"] = []string{designDoc, q.Index}
	}
	if len(q.Sort) > 0 {
		direction := q.Direction
		if direction == "" {
			direction = ascending
		}
		sorts := make([]map[string]sortDirection, len(q.Sort))
		for i, field := range q.Sort {
			sorts[i] = map[string]sortDirection{field: direction}
		}
		body["sort"] = sorts
	}
	if bookmark != "" {
		body["bookmark"] = bookmark
	}
	return body
}

func find[T any](ctx context.Context, db *kivik.DB, q findQuery) ([]T, error) {
	if q.Limit > 0 {
		docs, _, err := findPage[T](ctx, db, q.body(q.Limit, ""))
		return docs, err
	}

	var all []T
	bookmark := ""
	for {
		docs, next, err := findPage[T](ctx, db, q.body(findPageSize, bookmark))
		if err != nil {
			return nil, err
		}
		all = append(all, docs...)
		if len(docs) < findPageSize || next == "" || next == bookmark {
			return all, nil
		}
		bookmark = next
	}
}

// findPage runs one _find request and returns its documents and the bookmark
// for the following page.
func findPage[T any](ctx context.Context, db *kivik.DB, body map[string]interface{}) ([]T, string, error) {
	rows := db.Find(ctx, body)
	defer rows.Close()

	var docs []T
	for rows.Next() {
		var doc T
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, "", err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	meta, err := rows.Metadata()
	if err != nil {
		return nil, "", err
	}
	return docs, meta.Bookmark, nil
}

// sortKey is the numeric ordering field stored alongside time-ordered
// documents; RFC 3339 strings with trimmed fractions do not sort lexically.
func sortKey(t time.Time) int64 {
	return t.UnixNano()
}

// Mango indexes, by name. Queries that sort list the same fields.
var indexes = map[string][]string{
	indexByUser:           {"doc_type", "user_id"},
	indexByDevice:         {"doc_type", "device_id"},
	indexLocationByDevice: {"doc_type", "device_id", "ts"},
	indexHistoryByUser:    {"doc_type", "user_id", "ts"},
	indexHistoryByDevice:  {"doc_type", "device_id", "ts"},
	indexHistoryLatest:    {"doc_type", "user_id", "device_id", "geofence_id", "event_type", "ts"},
	indexPendingByDevice:  {"doc_type", "device_id", "is_executed", "ts"},
}

const (
	indexByUser           = "by-type-user"
	indexByDevice         = "by-type-device"
	indexLocationByDevice = "location-by-device"
	indexHistoryByUser    = "history-by-user"
	indexHistoryByDevice  = "history-by-device"
	indexHistoryLatest    = "history-latest"
	indexPendingByDevice  = "pending-by-device"
)

// EnsureDatabase creates the database if it does not exist and installs the
// Mango indexes the repositories query on.
func EnsureDatabase(ctx context.Context, client *kivik.Client, dbName string) error {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	db := client.DB(dbName)
	for name, fields := range indexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, designDoc, name, index); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	return nil
}
