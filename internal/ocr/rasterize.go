package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImage is one raster image belonging to a page.
type PageImage struct {
	PageNumber int
	Data       []byte
	Format     string // "png", "jpeg", ...
}

// PageRasterizer turns PDF bytes into one raster image per page.
type PageRasterizer interface {
	RasterizePages(ctx context.Context, pdfData []byte, pageCount int) ([]PageImage, error)
}

// PDFCPURasterizer extracts the embedded page images via pdfcpu. Scanned tax
// documents, the only kind that reaches OCR, carry one full-resolution scan
// image per page.
type PDFCPURasterizer struct{}

func NewPDFCPURasterizer() *PDFCPURasterizer {
	return &PDFCPURasterizer{}
}

func (r *PDFCPURasterizer) RasterizePages(ctx context.Context, pdfData []byte, pageCount int) ([]PageImage, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	pageImages, err := api.ExtractImagesRaw(bytes.NewReader(pdfData), nil, conf)
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	var images []PageImage
	for _, byObj := range pageImages {
		objNrs := make([]int, 0, len(byObj))
		for objNr := range byObj {
			objNrs = append(objNrs, objNr)
		}
		sort.Ints(objNrs)
		for _, objNr := range objNrs {
			img := byObj[objNr]
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read image on page %d: %w", img.PageNr, err)
			}
			images = append(images, PageImage{
				PageNumber: img.PageNr,
				Data:       data,
				Format:     normalizeFormat(img.FileType),
			})
		}
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].PageNumber < images[j].PageNumber
	})
	return images, nil
}

func normalizeFormat(fileType string) string {
	switch fileType {
	case "jpg":
		return "jpeg"
	case "":
		return "png"
	default:
		return fileType
	}
}
