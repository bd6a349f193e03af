package query

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stockroom/internal/inventory"
)

// bom marks the export as UTF-8 for spreadsheet programs.
const bom = "\ufeff"

// Column describes one exported column.
type Column struct {
	Header   string `json:"header" yaml:"header"`
	Accessor string `json:"accessor" yaml:"accessor"`
	Numeric  bool   `json:"numeric,omitempty" yaml:"numeric,omitempty"`
}

// DefaultColumns mirrors the inventory grid.
var DefaultColumns = []Column{
	{Header: "THẺ KHO GIẤY SKU", Accessor: inventory.FieldSKU},
	{Header: "MỤC ĐÍCH", Accessor: inventory.FieldPurpose},
	{Header: "KIỆN GIẤY", Accessor: inventory.FieldPacketCode},
	{Header: "LOẠI GIẤY", Accessor: inventory.FieldPaperType},
	{Header: "Định Lượng", Accessor: inventory.FieldGSM},
	{Header: "NHÀ CUNG CẤP", Accessor: inventory.FieldSupplier},
	{Header: "NHÀ SX", Accessor: inventory.FieldManufacturer},
	{Header: "NGÀY NHẬP", Accessor: inventory.FieldImportDate, Numeric: true},
	{Header: "NGÀY SX", Accessor: inventory.FieldProductionDate, Numeric: true},
	{Header: "LÔ/DÀI (CM)", Accessor: inventory.FieldLength, Numeric: true},
	{Header: "RỘNG (CM)", Accessor: inventory.FieldWidth, Numeric: true},
	{Header: "TRỌNG LƯỢNG", Accessor: inventory.FieldWeight, Numeric: true},
	{Header: "SỐ LƯỢNG", Accessor: inventory.FieldQuantity, Numeric: true},
	{Header: "ĐƠN HÀNG/ KHÁCH HÀNG", Accessor: inventory.FieldOrderCustomer},
	{Header: "MÃ VẬT TƯ", Accessor: inventory.FieldMaterialCode},
	{Header: "VỊ TRÍ HÀNG", Accessor: inventory.FieldLocation},
	{Header: "VẬT TƯ CHỜ XUẤT", Accessor: inventory.FieldPendingOut},
	{Header: "NGƯỜI NHẬP", Accessor: inventory.FieldImporter},
	{Header: "CẬP NHẬT", Accessor: inventory.FieldLastUpdated},
}

// LoadColumns reads a YAML list of column descriptors.
func LoadColumns(r io.Reader) ([]Column, error) {
	var cols []Column
	if err := yaml.NewDecoder(r).Decode(&cols); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	for i, c := range cols {
		if c.Accessor == "" {
			return nil, fmt.Errorf("column %d (%q): missing accessor", i, c.Header)
		}
		if _, ok := inventory.LookupField(c.Accessor); !ok {
			return nil, fmt.Errorf("column %d (%q): unknown accessor %q", i, c.Header, c.Accessor)
		}
	}
	return cols, nil
}

var lineBreaks = regexp.MustCompile(`[\n\r]+`)

// exporter renders rows as ';'-separated text. Not safe for concurrent use.
type exporter struct {
	printer *message.Printer
}

func newExporter() *exporter {
	return &exporter{printer: message.NewPrinter(language.Vietnamese)}
}

// render produces: BOM, header row, then one line per item, joined by "\n".
func (x *exporter) render(items []inventory.Item, cols []Column) []byte {
	var b strings.Builder
	b.WriteString(bom)

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Header
	}
	b.WriteString(strings.Join(headers, ";"))
	b.WriteString("\n")

	cells := make([]string, len(cols))
	for i := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		for j, c := range cols {
			cells[j] = x.cell(&items[i], c)
		}
		b.WriteString(strings.Join(cells, ";"))
	}
	return []byte(b.String())
}

func (x *exporter) cell(it *inventory.Item, c Column) string {
	v := it.Get(c.Accessor)
	if c.Numeric {
		if n, ok := numeric(v); ok {
			return x.formatNumber(n)
		}
	}
	s := inventory.FormatValue(v)
	s = strings.ReplaceAll(s, ";", ",")
	return lineBreaks.ReplaceAllString(s, " ")
}

// formatNumber groups thousands with '.' and uses ',' as decimal mark,
// keeping at most three fraction digits.
func (x *exporter) formatNumber(n float64) string {
	return x.printer.Sprint(number.Decimal(n, number.MaxFractionDigits(3)))
}
