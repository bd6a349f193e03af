package query

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockroom/internal/inventory"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

var exportItems = []inventory.Item{
	{SKU: "A1", ImportDate: "05/03/2024", Weight: 1234.5, Location: "K1;K2", PendingOut: "giữ lại\r\nchờ xuất"},
	{SKU: "B2", Weight: 1200, Location: "K3"},
}

var exportColumns = []Column{
	{Header: "SKU", Accessor: inventory.FieldSKU},
	{Header: "TRỌNG LƯỢNG", Accessor: inventory.FieldWeight, Numeric: true},
	{Header: "NGÀY NHẬP", Accessor: inventory.FieldImportDate, Numeric: true},
	{Header: "VỊ TRÍ", Accessor: inventory.FieldLocation},
	{Header: "CHỜ XUẤT", Accessor: inventory.FieldPendingOut},
}

func TestExport_Golden(t *testing.T) {
	e := startEngine(t, exportItems...)
	ctx := context.Background()

	_, err := e.Filter(ctx, FilterSpec{}, SortSpec{})
	require.NoError(t, err)

	data, err := e.Export(ctx, exportColumns)
	require.NoError(t, err)

	newGoldie(t).Assert(t, "export_basic", data)
}

func TestExport_UsesLastResult(t *testing.T) {
	e := startEngine(t, exportItems...)
	ctx := context.Background()

	data, err := e.Export(ctx, exportColumns)
	require.NoError(t, err)
	assert.Equal(t, "\ufeffSKU;TRỌNG LƯỢNG;NGÀY NHẬP;VỊ TRÍ;CHỜ XUẤT\n", string(data), "nothing filtered yet")

	_, err = e.Filter(ctx, FilterSpec{Search: "b2"}, SortSpec{})
	require.NoError(t, err)
	data, err = e.Export(ctx, exportColumns)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimPrefix(string(data), "\ufeff"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "B2;1.200;;K3;", lines[1])
}

func TestExport_DefaultColumns(t *testing.T) {
	e := startEngine(t, exportItems...)
	ctx := context.Background()

	_, err := e.Filter(ctx, FilterSpec{}, SortSpec{})
	require.NoError(t, err)
	data, err := e.Export(ctx, nil)
	require.NoError(t, err)

	header := strings.SplitN(strings.TrimPrefix(string(data), "\ufeff"), "\n", 2)[0]
	assert.Equal(t, len(DefaultColumns), strings.Count(header, ";")+1)
	assert.True(t, strings.HasPrefix(header, "THẺ KHO GIẤY SKU;MỤC ĐÍCH;"))
}

func TestFormatNumber(t *testing.T) {
	x := newExporter()
	assert.Equal(t, "1.234,5", x.formatNumber(1234.5))
	assert.Equal(t, "1.200", x.formatNumber(1200))
	assert.Equal(t, "0", x.formatNumber(0))
	assert.Equal(t, "0,125", x.formatNumber(0.125))
}

func TestLoadColumns(t *testing.T) {
	cols, err := LoadColumns(strings.NewReader(`
- header: SKU
  accessor: sku
- header: Weight
  accessor: weight
  numeric: true
`))
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Header: "SKU", Accessor: "sku"},
		{Header: "Weight", Accessor: "weight", Numeric: true},
	}, cols)

	_, err = LoadColumns(strings.NewReader("- header: X\n  accessor: colour\n"))
	assert.ErrorContains(t, err, "unknown accessor")
}
