package protocol

import "encoding/json"

// DataType names the populated field of a TypedData.
type DataType string

const (
	DataNone   DataType = ""
	DataString DataType = "string"
	DataJSON   DataType = "json"
	DataBytes  DataType = "bytes"
	DataInt    DataType = "int"
	DataDouble DataType = "double"
	DataHTTP   DataType = "http"
)

// TypedData is a single wire value. At most one field is set; an empty
// TypedData carries no value.
type TypedData struct {
	String *string  `json:"string,omitempty"`
	JSON   *string  `json:"json,omitempty"`
	Bytes  []byte   `json:"bytes"`
	Int    *int64   `json:"int,omitempty"`
	Double *float64 `json:"double,omitempty"`
	HTTP   *RpcHTTP `json:"http,omitempty"`
}

// typedDataWire is the JSON form of TypedData. Bytes is a pointer so an
// empty byte slice is still sent as "bytes": "".
type typedDataWire struct {
	String *string  `json:"string,omitempty"`
	JSON   *string  `json:"json,omitempty"`
	Bytes  *[]byte  `json:"bytes,omitempty"`
	Int    *int64   `json:"int,omitempty"`
	Double *float64 `json:"double,omitempty"`
	HTTP   *RpcHTTP `json:"http,omitempty"`
}

func (d TypedData) MarshalJSON() ([]byte, error) {
	w := typedDataWire{String: d.String, JSON: d.JSON, Int: d.Int, Double: d.Double, HTTP: d.HTTP}
	if d.Bytes != nil {
		b := d.Bytes
		w.Bytes = &b
	}
	return json.Marshal(w)
}

func (d *TypedData) UnmarshalJSON(data []byte) error {
	var w typedDataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = TypedData{String: w.String, JSON: w.JSON, Int: w.Int, Double: w.Double, HTTP: w.HTTP}
	if w.Bytes != nil {
		d.Bytes = *w.Bytes
		if d.Bytes == nil {
			d.Bytes = []byte{}
		}
	}
	return nil
}

// RpcHTTP is the wire form of an HTTP request or response.
type RpcHTTP struct {
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Query      map[string]string `json:"query,omitempty"`
	Body       *TypedData        `json:"body,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
}

// Type reports which field of d is populated.
func (d TypedData) Type() DataType {
	switch {
	case d.String != nil:
		return DataString
	case d.JSON != nil:
		return DataJSON
	case d.Bytes != nil:
		return DataBytes
	case d.Int != nil:
		return DataInt
	case d.Double != nil:
		return DataDouble
	case d.HTTP != nil:
		return DataHTTP
	default:
		return DataNone
	}
}

func StringData(s string) TypedData { return TypedData{String: &s} }

func JSONData(s string) TypedData { return TypedData{JSON: &s} }

func BytesData(b []byte) TypedData {
	if b == nil {
		b = []byte{}
	}
	return TypedData{Bytes: b}
}

func IntData(i int64) TypedData { return TypedData{Int: &i} }

func DoubleData(f float64) TypedData { return TypedData{Double: &f} }

func HTTPData(h *RpcHTTP) TypedData { return TypedData{HTTP: h} }
