package inventory

import (
	"fmt"
	"strconv"
	"strings"
)

// TransactionType tags historical rows as imports or exports.
type TransactionType string

const (
	TransactionImport TransactionType = "IMPORT"
	TransactionExport TransactionType = "EXPORT"
)

// Item is one inventory record (a paper roll or packet).
//
// JSON names are the backend's wire names and must not change.
type Item struct {
	SKU             string          `json:"sku"`
	Purpose         string          `json:"purpose"`
	PacketCode      string          `json:"packetCode"`
	PaperType       string          `json:"paperType"`
	GSM             string          `json:"gsm"`
	Supplier        string          `json:"supplier"`
	Manufacturer    string          `json:"manufacturer"`
	ImportDate      string          `json:"importDate"`
	ProductionDate  string          `json:"productionDate"`
	Length          float64         `json:"length"`
	Width           float64         `json:"width"`
	Weight          float64         `json:"weight"`
	Quantity        float64         `json:"quantity"`
	OrderCustomer   string          `json:"orderCustomer"`
	MaterialCode    string          `json:"materialCode"`
	Location        string          `json:"location"`
	PendingOut      string          `json:"pendingOut"`
	Importer        string          `json:"importer"`
	LastUpdated     string          `json:"lastUpdated"`
	TransactionType TransactionType `json:"transactionType,omitempty"`
}

// Field names as used by query descriptors and column accessors.
const (
	FieldSKU             = "sku"
	FieldPurpose         = "purpose"
	FieldPacketCode      = "packetCode"
	FieldPaperType       = "paperType"
	FieldGSM             = "gsm"
	FieldSupplier        = "supplier"
	FieldManufacturer    = "manufacturer"
	FieldImportDate      = "importDate"
	FieldProductionDate  = "productionDate"
	FieldLength          = "length"
	FieldWidth           = "width"
	FieldWeight          = "weight"
	FieldQuantity        = "quantity"
	FieldOrderCustomer   = "orderCustomer"
	FieldMaterialCode    = "materialCode"
	FieldLocation        = "location"
	FieldPendingOut      = "pendingOut"
	FieldImporter        = "importer"
	FieldLastUpdated     = "lastUpdated"
	FieldTransactionType = "transactionType"
)

// FieldKind selects the comparison used when sorting on a field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindDate
)

// Field describes one Item field and its position in a wire row.
type Field struct {
	Name   string
	Kind   FieldKind
	Column int
}

// Fields lists every Item field in wire column order.
var Fields = []Field{
	{FieldSKU, KindString, ColSKU},
	{FieldPurpose, KindString, ColPurpose},
	{FieldPacketCode, KindString, ColPacketCode},
	{FieldPaperType, KindString, ColPaperType},
	{FieldGSM, KindString, ColGSM},
	{FieldSupplier, KindString, ColSupplier},
	{FieldManufacturer, KindString, ColManufacturer},
	{FieldImportDate, KindDate, ColImportDate},
	{FieldProductionDate, KindDate, ColProductionDate},
	{FieldLength, KindNumber, ColLength},
	{FieldWidth, KindNumber, ColWidth},
	{FieldWeight, KindNumber, ColWeight},
	{FieldQuantity, KindNumber, ColQuantity},
	{FieldOrderCustomer, KindString, ColOrderCustomer},
	{FieldMaterialCode, KindString, ColMaterialCode},
	{FieldLocation, KindString, ColLocation},
	{FieldPendingOut, KindString, ColPendingOut},
	{FieldImporter, KindString, ColImporter},
	{FieldLastUpdated, KindDate, ColLastUpdated},
	{FieldTransactionType, KindString, ColTransactionType},
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, len(Fields))
	for _, f := range Fields {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the field with the given name.
func LookupField(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// IsProvenance reports whether name is one of the fields that record who
// created a row and when.
func IsProvenance(name string) bool {
	return name == FieldImporter || name == FieldLastUpdated
}

// Get returns the value of the named field: a string, a float64, or nil
// when the field is unknown or (for the optional transaction tag) unset.
func (it *Item) Get(name string) any {
	switch name {
	case FieldSKU:
		return it.SKU
	case FieldPurpose:
		return it.Purpose
	case FieldPacketCode:
		return it.PacketCode
	case FieldPaperType:
		return it.PaperType
	case FieldGSM:
		return it.GSM
	case FieldSupplier:
		return it.Supplier
	case FieldManufacturer:
		return it.Manufacturer
	case FieldImportDate:
		return it.ImportDate
	case FieldProductionDate:
		return it.ProductionDate
	case FieldLength:
		return it.Length
	case FieldWidth:
		return it.Width
	case FieldWeight:
		return it.Weight
	case FieldQuantity:
		return it.Quantity
	case FieldOrderCustomer:
		return it.OrderCustomer
	case FieldMaterialCode:
		return it.MaterialCode
	case FieldLocation:
		return it.Location
	case FieldPendingOut:
		return it.PendingOut
	case FieldImporter:
		return it.Importer
	case FieldLastUpdated:
		return it.LastUpdated
	case FieldTransactionType:
		if it.TransactionType == "" {
			return nil
		}
		return string(it.TransactionType)
	}
	return nil
}

// Text returns the named field rendered as text, "" when it has no value.
func (it *Item) Text(name string) string {
	return FormatValue(it.Get(name))
}

// FormatValue renders a field value the way search and export see it.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

// Set assigns the named field from text. Numbers accept a decimal comma;
// dates are normalised to canonical form.
func (it *Item) Set(name, value string) error {
	f, ok := LookupField(name)
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	value = strings.TrimSpace(value)
	switch f.Kind {
	case KindNumber:
		n := 0.0
		if value != "" {
			var err error
			n, err = strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
			if err != nil {
				return fmt.Errorf("field %s: %q is not a number", name, value)
			}
		}
		*it.numberField(name) = n
	case KindDate:
		*it.textField(name) = NormalizeDate(value, name == FieldLastUpdated)
	default:
		if name == FieldTransactionType {
			it.TransactionType = TransactionType(strings.ToUpper(value))
			return nil
		}
		*it.textField(name) = value
	}
	return nil
}

func (it *Item) numberField(name string) *float64 {
	switch name {
	case FieldLength:
		return &it.Length
	case FieldWidth:
		return &it.Width
	case FieldWeight:
		return &it.Weight
	}
	return &it.Quantity
}

func (it *Item) textField(name string) *string {
	switch name {
	case FieldSKU:
		return &it.SKU
	case FieldPurpose:
		return &it.Purpose
	case FieldPacketCode:
		return &it.PacketCode
	case FieldPaperType:
		return &it.PaperType
	case FieldGSM:
		return &it.GSM
	case FieldSupplier:
		return &it.Supplier
	case FieldManufacturer:
		return &it.Manufacturer
	case FieldImportDate:
		return &it.ImportDate
	case FieldProductionDate:
		return &it.ProductionDate
	case FieldOrderCustomer:
		return &it.OrderCustomer
	case FieldMaterialCode:
		return &it.MaterialCode
	case FieldLocation:
		return &it.Location
	case FieldPendingOut:
		return &it.PendingOut
	case FieldImporter:
		return &it.Importer
	}
	return &it.LastUpdated
}
