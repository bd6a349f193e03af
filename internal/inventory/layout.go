package inventory

// LayoutVersion identifies the column order of RawRow. Bump it whenever a
// column is added, removed, or moved; the backend sends rows in this order.
const LayoutVersion = 1

// Wire column positions for LayoutVersion 1.
const (
	ColSKU = iota
	ColPurpose
	ColPacketCode
	ColPaperType
	ColGSM
	ColSupplier
	ColManufacturer
	ColImportDate
	ColProductionDate
	ColLength
	ColWidth
	ColWeight
	ColQuantity
	ColOrderCustomer
	ColMaterialCode
	ColLocation
	ColPendingOut
	ColImporter
	ColLastUpdated
	ColTransactionType

	// ColumnCount is the number of positions a complete row carries.
	ColumnCount
)

// RawRow is one delta row as sent by the backend: a fixed-position array of
// JSON scalars. Rows may be short; missing positions read as absent.
type RawRow []any

// At returns the value at position i, or nil when the row is too short.
func (r RawRow) At(i int) any {
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}
