// Package export moves series data in and out of containers.
//
// # Import
//
// CSV tables become source containers. Each table is a group: one column
// holds time (the column named "time", otherwise the first) and every
// fully numeric column becomes a series sharing it. Empty cells are stored
// as NaN and dropped when the series is read. Rows are sorted by time and
// repeated timestamps are rejected.
//
//	auviewer import --name patient-1 vitals.csv labs.csv
//
// The container is written to <name>.partial and renamed once its schema is
// stored, so scans of the data directory never pick up a half-written file.
//
// # Export
//
// A series output (downsampled or raw) can be written as CSV with a
// time,min,max,value header, or as JSON carrying the same points plus
// metadata. Downsampled rows leave value empty; raw rows leave min and max
// empty.
//
// # HTTP API
//
// Export endpoint: GET /api/v1/files/{file}/series/{series}/export
// Query parameters:
//   - format: "csv" or "json" (default: csv)
//   - start, stop: window in seconds (default: the full output)
//
// Example:
//
//	curl "http://localhost:8080/api/v1/files/patient-1/series/vitals/hr/export?start=0&stop=3600" \
//	  -o hr.csv
//
// Import endpoint: POST /api/v1/files/{file}/import?group=vitals
// Content-Type: text/csv
//
// Example:
//
//	curl -X POST "http://localhost:8080/api/v1/files/patient-1/import?group=vitals" \
//	  -H "Content-Type: text/csv" \
//	  --data-binary @vitals.csv
//
// An import into an existing container is rejected with 409 Conflict.
package export
