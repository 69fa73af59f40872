package content

import (
	"encoding/json"
	"fmt"
	"sort"
)

type ColumnType int

const (
	Integer ColumnType = iota
	SmallInt
	Text
	DateColumn
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case SmallInt:
		return "smallint"
	case Text:
		return "text"
	case DateColumn:
		return "date"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// Unhashed columns are stored but left out of the state string.
	Unhashed bool
}

// Class is the tagged variant describing one content table. The set of
// classes is closed: every content type is registered below.
type Class struct {
	DType    string
	Table    string
	IDColumn string
	// Columns lists the content columns, id column first, in Values order.
	Columns []Column
	decode  func([]byte) (Record, error)
}

// Decode builds the concrete record from a JSON object keyed by column
// name. Unknown keys (chain metadata) are ignored.
func (c *Class) Decode(raw []byte) (Record, error) {
	rec, err := c.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.DType, err)
	}
	return rec, nil
}

func (c *Class) ColumnNames() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}

// HashedColumns lists the columns of the state string, in order. Every
// state string is "name=value" over these columns joined by spaces.
func (c *Class) HashedColumns() []Column {
	out := make([]Column, 0, len(c.Columns))
	for _, col := range c.Columns {
		if !col.Unhashed {
			out = append(out, col)
		}
	}
	return out
}

func (c *Class) Column(name string) (Column, bool) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

func decodeAs[T Record](raw []byte) (Record, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var (
	byTable = make(map[string]*Class)
	byDType = make(map[string]*Class)
)

func register(c *Class) {
	if _, dup := byTable[c.Table]; dup {
		panic("content: duplicate table " + c.Table)
	}
	if _, dup := byDType[c.DType]; dup {
		panic("content: duplicate dtype " + c.DType)
	}
	byTable[c.Table] = c
	byDType[c.DType] = c
}

func ByTable(table string) (*Class, bool) {
	c, ok := byTable[table]
	return c, ok
}

func ByDType(dtype string) (*Class, bool) {
	c, ok := byDType[dtype]
	return c, ok
}

// MustClass returns the class of a record. Every Record implementation is
// registered, so a miss is a programming error.
func MustClass(r Record) *Class {
	c, ok := byTable[r.Table()]
	if !ok {
		panic("content: unregistered table " + r.Table())
	}
	return c
}

// Classes returns all registered classes ordered by table name.
func Classes() []*Class {
	out := make([]*Class, 0, len(byTable))
	for _, c := range byTable {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Tagged carries a record through heterogeneous transport as
// {"dtype": ..., "content": {...}}.
type Tagged struct {
	Record Record
}

type taggedWire struct {
	DType   string          `json:"dtype"`
	Content json.RawMessage `json:"content"`
}

func (t Tagged) MarshalJSON() ([]byte, error) {
	if t.Record == nil {
		return nil, fmt.Errorf("tagged content is empty")
	}
	raw, err := json.Marshal(t.Record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedWire{DType: t.Record.DType(), Content: raw})
}

func (t *Tagged) UnmarshalJSON(data []byte) error {
	var w taggedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c, ok := ByDType(w.DType)
	if !ok {
		return fmt.Errorf("unknown dtype: %q", w.DType)
	}
	rec, err := c.Decode(w.Content)
	if err != nil {
		return err
	}
	t.Record = rec
	return nil
}
