package normalizer

import "fmt"

// DataIntegrityError marks a schema mismatch between exported records and
// the project data dictionary. It is never swallowed: callers must be able
// to tell "no data yet" apart from "broken data".
type DataIntegrityError struct {
	Field  string
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: field %q: %s", e.Field, e.Detail)
}
