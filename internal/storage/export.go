package storage

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

const productsSheet = "Products"

// WriteProductsXLSX writes a one-column spreadsheet of product names to path
func WriteProductsXLSX(path string, products pipeline.ProductList) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", productsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	_ = f.SetCellValue(productsSheet, "A1", "Product Name")
	for i, p := range products {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		_ = f.SetCellValue(productsSheet, cell, p.Name)
	}
	_ = f.SetColWidth(productsSheet, "A", "A", 48)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}
