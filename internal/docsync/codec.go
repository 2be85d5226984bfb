package docsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

// Wire schema versions. Schemas 0 and 1 are positional tuples, schema 2 is a
// named envelope.
const (
	SchemaPositional       = 0
	SchemaPositionalStatus = 1
	SchemaNamed            = 2
)

// positional field order shared by schemas 0 and 1.
const (
	posName = iota
	posIgnore
	posIgnoreAttachment
	posSyncTime
	posSyncRemote
	posSyncLocal
	posRemote
	posLocal
	posStatus
)

const documentsSchemaURL = "https://wikisync.local/schema/documents-v2.json"

const documentsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema", "documents"],
  "properties": {
    "schema": {"const": 2},
    "documents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "ignore": {"type": ["boolean", "null"]},
          "ignore_attachment": {"type": ["boolean", "null"]},
          "sync_time": {"type": ["integer", "null"], "minimum": 0},
          "sync_remote_version": {"type": ["integer", "null"], "minimum": 0},
          "sync_local_version": {"type": ["integer", "null"], "minimum": 0},
          "remote_version": {"type": ["integer", "null"], "minimum": 0},
          "local_version": {"type": ["integer", "null"], "minimum": 0},
          "status": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentsSchema))
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(documentsSchemaURL, doc); err != nil {
		return nil, err
	}

	return c.Compile(documentsSchemaURL)
})

type envelope struct {
	Schema    int            `json:"schema"`
	Documents []wireDocument `json:"documents"`
}

type wireDocument struct {
	Name              string `json:"name"`
	Ignore            bool   `json:"ignore"`
	IgnoreAttachment  bool   `json:"ignore_attachment"`
	SyncTime          int64  `json:"sync_time"`
	SyncRemoteVersion int64  `json:"sync_remote_version"`
	SyncLocalVersion  int64  `json:"sync_local_version"`
	RemoteVersion     int64  `json:"remote_version"`
	LocalVersion      int64  `json:"local_version"`
	Status            string `json:"status,omitempty"`
}

// DecodeDocuments decodes an endpoint response in any supported schema. A
// status supplied by the endpoint is kept when valid; otherwise the status is
// left empty for the caller to classify.
func DecodeDocuments(data []byte) ([]Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", syncerr.ErrSchemaMismatch)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", syncerr.ErrSchemaMismatch)
	}

	switch data[0] {
	case '{':
		return decodeNamed(data)
	case '[':
		return decodePositional(data)
	}

	return nil, fmt.Errorf("%w: unexpected %q", syncerr.ErrSchemaMismatch, data[0])
}

func decodeNamed(data []byte) ([]Document, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling documents schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrSchemaMismatch, err)
	}

	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrSchemaMismatch, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrSchemaMismatch, err)
	}

	docs := make([]Document, 0, len(env.Documents))
	for _, w := range env.Documents {
		docs = append(docs, Document{
			Name:             w.Name,
			Ignore:           w.Ignore,
			IgnoreAttachment: w.IgnoreAttachment,
			SyncTime:         w.SyncTime,
			Counters: Counters{
				SyncRemote: w.SyncRemoteVersion,
				SyncLocal:  w.SyncLocalVersion,
				Remote:     w.RemoteVersion,
				Local:      w.LocalVersion,
			},
			Status: validStatus(w.Status),
		})
	}

	return docs, nil
}

func decodePositional(data []byte) ([]Document, error) {
	rows := gjson.ParseBytes(data).Array()
	docs := make([]Document, 0, len(rows))

	for i, row := range rows {
		if !row.IsArray() {
			return nil, fmt.Errorf("%w: row %d is not an array", syncerr.ErrSchemaMismatch, i)
		}

		f := row.Array()
		if len(f) < posStatus {
			return nil, fmt.Errorf("%w: row %d has %d fields, want at least %d", syncerr.ErrSchemaMismatch, i, len(f), posStatus)
		}

		name := f[posName].String()
		if name == "" {
			return nil, fmt.Errorf("%w: row %d has no name", syncerr.ErrSchemaMismatch, i)
		}

		d := Document{
			Name:             name,
			Ignore:           f[posIgnore].Bool(),
			IgnoreAttachment: f[posIgnoreAttachment].Bool(),
			SyncTime:         f[posSyncTime].Int(),
			Counters: Counters{
				SyncRemote: f[posSyncRemote].Int(),
				SyncLocal:  f[posSyncLocal].Int(),
				Remote:     f[posRemote].Int(),
				Local:      f[posLocal].Int(),
			},
		}

		if len(f) > posStatus {
			d.Status = validStatus(f[posStatus].String())
		}

		docs = append(docs, d)
	}

	return docs, nil
}

func validStatus(s string) Status {
	st := Status(s)
	if st.Valid() {
		return st
	}

	return ""
}

// EncodeDocuments encodes documents in the given schema version.
func EncodeDocuments(docs []*Document, schema int) ([]byte, error) {
	switch schema {
	case SchemaNamed:
		env := envelope{Schema: SchemaNamed, Documents: make([]wireDocument, 0, len(docs))}
		for _, d := range docs {
			env.Documents = append(env.Documents, wireDocument{
				Name:              d.Name,
				Ignore:            d.Ignore,
				IgnoreAttachment:  d.IgnoreAttachment,
				SyncTime:          d.SyncTime,
				SyncRemoteVersion: d.SyncRemote,
				SyncLocalVersion:  d.SyncLocal,
				RemoteVersion:     d.Remote,
				LocalVersion:      d.Local,
				Status:            string(d.Status),
			})
		}

		return json.Marshal(env)
	case SchemaPositional, SchemaPositionalStatus:
		rows := make([][]any, 0, len(docs))
		for _, d := range docs {
			row := []any{
				d.Name,
				flag(d.Ignore),
				flag(d.IgnoreAttachment),
				d.SyncTime,
				d.SyncRemote,
				d.SyncLocal,
				d.Remote,
				d.Local,
			}
			if schema == SchemaPositionalStatus {
				row = append(row, d.Status)
			}

			rows = append(rows, row)
		}

		return json.Marshal(rows)
	}

	return nil, fmt.Errorf("%w: schema %d", syncerr.ErrSchemaMismatch, schema)
}

// flag renders a legacy boolean as 1 or null.
func flag(b bool) any {
	if b {
		return 1
	}

	return nil
}
