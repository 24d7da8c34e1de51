// Package pdfinfo answers the one question the core asks of a PDF: how many
// pages it has. Parsing and rendering stay with the remote service.
package pdfinfo

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Count returns the page count of an in-memory PDF. Validation is relaxed:
// scanned packets from county recorders are rarely pristine.
func Count(data []byte) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return n, nil
}
