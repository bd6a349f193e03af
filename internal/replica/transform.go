package replica

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/stockroom/internal/inventory"
)

// Transform converts backend rows into records. Missing positions become
// zero values, non-numeric numbers become 0, and dates are rewritten into
// canonical form. A malformed row yields a default-valued record; it never
// aborts the batch.
func Transform(rows []inventory.RawRow) []inventory.Item {
	out := make([]inventory.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, transformRow(r))
	}
	return out
}

func transformRow(r inventory.RawRow) inventory.Item {
	return inventory.Item{
		SKU:             text(r.At(inventory.ColSKU)),
		Purpose:         text(r.At(inventory.ColPurpose)),
		PacketCode:      text(r.At(inventory.ColPacketCode)),
		PaperType:       text(r.At(inventory.ColPaperType)),
		GSM:             text(r.At(inventory.ColGSM)),
		Supplier:        text(r.At(inventory.ColSupplier)),
		Manufacturer:    text(r.At(inventory.ColManufacturer)),
		ImportDate:      inventory.NormalizeDate(r.At(inventory.ColImportDate), false),
		ProductionDate:  inventory.NormalizeDate(r.At(inventory.ColProductionDate), false),
		Length:          number(r.At(inventory.ColLength)),
		Width:           number(r.At(inventory.ColWidth)),
		Weight:          number(r.At(inventory.ColWeight)),
		Quantity:        number(r.At(inventory.ColQuantity)),
		OrderCustomer:   text(r.At(inventory.ColOrderCustomer)),
		MaterialCode:    text(r.At(inventory.ColMaterialCode)),
		Location:        text(r.At(inventory.ColLocation)),
		PendingOut:      text(r.At(inventory.ColPendingOut)),
		Importer:        text(r.At(inventory.ColImporter)),
		LastUpdated:     inventory.NormalizeDate(r.At(inventory.ColLastUpdated), true),
		TransactionType: transactionType(r.At(inventory.ColTransactionType)),
	}
}

func text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

func number(v any) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		f, _ = val.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(val), 64)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func transactionType(v any) inventory.TransactionType {
	s, _ := v.(string)
	switch t := inventory.TransactionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case inventory.TransactionImport, inventory.TransactionExport:
		return t
	}
	return ""
}
