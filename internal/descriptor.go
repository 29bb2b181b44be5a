package internal

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// FieldDescriptor is the C2 field metadata registry's unit of information
// about one searchable/sortable entity field: its wire name, physical
// column, coercion kind, allowed operators, and sort eligibility. Grounded
// on schema_registry.go's AttributeMetadata (AttributeName/ValueType/
// ColumnBinding), generalized from a schema-ID+attribute-ID keyed runtime
// cache to a reflect.Type-keyed one populated once from Go struct tags
// (the `qs:"..."` tag) instead of a JSON-schema document.
type FieldDescriptor struct {
	GoName     string
	WireName   string
	Column     string
	SortColumn string
	Kind       FieldKind
	EnumValues []string
	Sortable   bool
	AllowedOps map[SearchOperatorName]bool
	IsPK       bool
	Relation   RelationKind
	RelPath    string
	RelType    reflect.Type
	// RelFK is the foreign-key column name. For a ToOne relation it is this
	// entity's own column referencing the target's primary key. For a
	// ToMany relation it is the target (child) table's column referencing
	// this entity's primary key.
	RelFK string
}

// SearchOperatorName avoids an import cycle with the root package's
// SearchOperator type: the root package converts to/from this string type
// at the C6 compiler boundary.
type SearchOperatorName string

// RelationKind classifies a struct field that points at another entity.
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationToOne
	RelationToMany
)

// EntityDescriptor is the full set of FieldDescriptors for one entity type,
// plus its resolved primary key (single or composite).
type EntityDescriptor struct {
	Type       reflect.Type
	TableName  string
	Fields     map[string]*FieldDescriptor // keyed by WireName
	ByGoName   map[string]*FieldDescriptor
	PrimaryKey []*FieldDescriptor
}

var (
	descriptorCacheMu sync.Mutex
	descriptorCache   = map[reflect.Type]*EntityDescriptor{}
)

// DescriptorFor returns the memoized EntityDescriptor for entity type T,
// building it on first use via reflection over struct tags. Grounded on
// the teacher's schema_metadata_cache.go memoization pattern (a
// sync.Mutex-guarded map keyed on a cache key, populated lazily).
func DescriptorFor(t reflect.Type) (*EntityDescriptor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	descriptorCacheMu.Lock()
	defer descriptorCacheMu.Unlock()
	if d, ok := descriptorCache[t]; ok {
		return d, nil
	}
	d, err := buildDescriptor(t)
	if err != nil {
		return nil, err
	}
	descriptorCache[t] = d
	return d, nil
}

// tableNamer lets a DTO declare its physical table name via
// `func (T) TableName() string`; falls back to the snake_case of the type
// name otherwise.
type tableNamer interface {
	TableName() string
}

func buildDescriptor(t reflect.Type) (*EntityDescriptor, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("queryspec: %s is not a struct", t)
	}
	d := &EntityDescriptor{
		Type:     t,
		Fields:   map[string]*FieldDescriptor{},
		ByGoName: map[string]*FieldDescriptor{},
	}
	if tn, ok := reflect.New(t).Interface().(tableNamer); ok {
		d.TableName = tn.TableName()
	} else {
		d.TableName = toSnakeCase(t.Name())
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("qs")
		if tag == "-" {
			continue
		}
		fd, err := parseFieldTag(f, tag)
		if err != nil {
			return nil, fmt.Errorf("queryspec: field %s.%s: %w", t.Name(), f.Name, err)
		}
		if fd.Relation != RelationNone {
			rt := f.Type
			if rt.Kind() == reflect.Ptr || rt.Kind() == reflect.Slice {
				rt = rt.Elem()
			}
			fd.RelType = rt
		}
		d.Fields[fd.WireName] = fd
		d.ByGoName[f.Name] = fd
		if fd.IsPK {
			d.PrimaryKey = append(d.PrimaryKey, fd)
		}
	}
	return d, nil
}

func parseFieldTag(f reflect.StructField, tag string) (*FieldDescriptor, error) {
	fd := &FieldDescriptor{
		GoName:     f.Name,
		WireName:   lowerFirst(f.Name),
		Column:     toSnakeCase(f.Name),
		Kind:       inferKind(f.Type),
		AllowedOps: map[SearchOperatorName]bool{},
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "field":
			fd.WireName = val
		case "column":
			fd.Column = val
		case "sortField":
			fd.SortColumn = val
		case "sortable":
			fd.Sortable = true
		case "pk":
			fd.IsPK = true
		case "kind":
			fd.Kind = parseKindName(val)
		case "enum":
			fd.EnumValues = strings.Split(val, "|")
		case "ops":
			for _, op := range strings.Split(val, "|") {
				fd.AllowedOps[SearchOperatorName(strings.TrimSpace(op))] = true
			}
		case "rel":
			switch val {
			case "toOne":
				fd.Relation = RelationToOne
			case "toMany":
				fd.Relation = RelationToMany
			default:
				return nil, fmt.Errorf("unknown rel kind %q", val)
			}
		case "path":
			fd.RelPath = val
		case "fk":
			fd.RelFK = val
		default:
			return nil, fmt.Errorf("unknown qs tag key %q", key)
		}
	}
	if fd.SortColumn == "" {
		fd.SortColumn = fd.Column
	}
	if len(fd.AllowedOps) == 0 && fd.Relation == RelationNone {
		fd.AllowedOps = defaultOpsForKind(fd.Kind)
	}
	return fd, nil
}

func defaultOpsForKind(k FieldKind) map[SearchOperatorName]bool {
	base := []SearchOperatorName{"EQUALS", "NOT_EQUALS", "IS_NULL", "IS_NOT_NULL", "IN", "NOT_IN"}
	switch k {
	case KindText, KindUUID, KindEnum:
		base = append(base, "CONTAINS", "NOT_CONTAINS", "STARTS_WITH", "NOT_STARTS_WITH", "ENDS_WITH", "NOT_ENDS_WITH")
	case KindInt, KindFloat, KindDate, KindDateTime:
		base = append(base, "GREATER_THAN", "GREATER_THAN_OR_EQUAL_TO", "LESS_THAN", "LESS_THAN_OR_EQUAL_TO", "BETWEEN", "NOT_BETWEEN")
	}
	out := make(map[SearchOperatorName]bool, len(base))
	for _, op := range base {
		out[op] = true
	}
	return out
}

func inferKind(t reflect.Type) FieldKind {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt
	case reflect.Float32, reflect.Float64:
		return KindFloat
	default:
		if t.String() == "time.Time" {
			return KindDateTime
		}
		return KindText
	}
}

func parseKindName(s string) FieldKind {
	switch s {
	case "int":
		return KindInt
	case "float":
		return KindFloat
	case "bool":
		return KindBool
	case "date":
		return KindDate
	case "datetime":
		return KindDateTime
	case "uuid":
		return KindUUID
	case "enum":
		return KindEnum
	default:
		return KindText
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveField looks up a field by its wire name, following a dotted path
// (e.g. "customer.name") across ToOne/ToMany relation boundaries. Grounded
// on internal/relation_index.go's parent/child traversal, generalized from
// JSON-schema $ref following to struct-tag `rel:`/`path:` following.
func ResolveField(root *EntityDescriptor, dottedPath string) (*FieldDescriptor, []*FieldDescriptor, error) {
	segments := strings.Split(dottedPath, ".")
	cur := root
	var path []*FieldDescriptor
	for i, seg := range segments {
		fd, ok := cur.Fields[seg]
		if !ok {
			return nil, nil, fmt.Errorf("unknown field %q", dottedPath)
		}
		if i == len(segments)-1 {
			return fd, path, nil
		}
		if fd.Relation == RelationNone {
			return nil, nil, fmt.Errorf("%q is not a relation, cannot traverse into %q", seg, dottedPath)
		}
		path = append(path, fd)
		next, err := DescriptorFor(fd.RelType)
		if err != nil {
			return nil, nil, err
		}
		cur = next
	}
	return nil, nil, fmt.Errorf("empty field path")
}

// FieldByColumn finds the non-relation field descriptor whose physical
// Column matches col, for backends that need to map a result-set column
// name back to a struct field (e.g. runner/pgxrunner's generic row scanner).
func (d *EntityDescriptor) FieldByColumn(col string) *FieldDescriptor {
	for _, fd := range d.Fields {
		if fd.Relation == RelationNone && fd.Column == col {
			return fd
		}
	}
	return nil
}

// ResolveSortColumn implements spec.md's sortField-vs-entityField-vs-dtoName
// priority: a descriptor's explicit SortColumn wins, then its physical
// Column, then its WireName itself.
func (fd *FieldDescriptor) ResolveSortColumn() string {
	if fd.SortColumn != "" {
		return fd.SortColumn
	}
	if fd.Column != "" {
		return fd.Column
	}
	return fd.WireName
}
