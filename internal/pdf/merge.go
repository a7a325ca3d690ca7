package pdf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	xdraw "golang.org/x/image/draw"

	"docsign/internal/model"
)

// Merger turns an annotated document into its final, static form: field
// values written in, form flattened, signature image composited.
//
// Merge performs no re-invocation guard; callers are expected to gate it on
// the record's signed flag.
type Merger struct {
	box model.FieldSpec
}

// NewMerger returns a Merger stamping signatures at the standard box.
func NewMerger() *Merger {
	return &Merger{box: model.SignatureBox}
}

// Merge applies values to the named form fields of src, flattens all fields
// into static page content and draws the signature raster at the fixed
// first-page rectangle. Keys matching no field are skipped, never fatal; the
// second return value reports how many were skipped.
//
// Returns ErrMalformedDocument if src does not reload and ErrImageDecode if
// the signature bytes are not a decodable raster image.
func (m *Merger) Merge(src []byte, values map[string]string, signature []byte) ([]byte, int, error) {
	sig, err := m.normalizeSignature(signature)
	if err != nil {
		return nil, 0, err
	}

	ctx, err := readContext(src)
	if err != nil {
		return nil, 0, err
	}

	applied, err := fillFields(ctx, values)
	if err != nil {
		return nil, 0, err
	}
	skipped := len(values) - applied

	if err := flatten(ctx); err != nil {
		return nil, skipped, err
	}

	flat, err := writeContext(ctx)
	if err != nil {
		return nil, skipped, err
	}

	out, err := m.stampSignature(flat, sig)
	if err != nil {
		return nil, skipped, err
	}
	return out, skipped, nil
}

// fillFields writes each known value into its field's V entry and drops the
// stale appearance. Missing fields are tolerated; the count of applied
// values is returned.
func fillFields(ctx *pdfmodel.Context, values map[string]string) (int, error) {
	_, fields, err := acroFormDict(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, obj := range fields {
		d, err := ctx.DereferenceDict(obj)
		if err != nil || d == nil {
			continue
		}
		val, ok := values[fieldName(ctx, d)]
		if !ok {
			continue
		}
		d["V"] = types.StringLiteral(escapeText(val))
		delete(d, "AP")
		applied++
	}
	return applied, nil
}

// flatten converts every text field into static first-page content and
// removes the interactive form: values are drawn with the registered font at
// each widget rectangle, then the AcroForm and its widget annotations are
// deleted. After flatten the document has no editable fields.
func flatten(ctx *pdfmodel.Context) error {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	_, fields, err := acroFormDict(ctx)
	if err != nil {
		return err
	}
	if fields == nil {
		return nil
	}

	var b strings.Builder
	for _, obj := range fields {
		d, err := ctx.DereferenceDict(obj)
		if err != nil || d == nil {
			continue
		}
		valObj, found := d.Find("V")
		if !found {
			continue
		}
		val, err := ctx.DereferenceStringOrHexLiteral(valObj, pdfmodel.V10, nil)
		if err != nil || val == "" {
			continue
		}
		x, y, _, h, ok := fieldRect(ctx, d)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "BT /%s %d Tf 0 g %.2f %.2f Td (%s) Tj ET\n",
			fontResourceName, fieldFontSize, x+2, y+baselineOffset(h), escapeText(val))
	}

	pageDict, _, inhPAttrs, err := ctx.PageDict(1, false)
	if err != nil || pageDict == nil {
		return fmt.Errorf("%w: no first page", ErrMalformedDocument)
	}

	if b.Len() > 0 {
		fontRef, err := helveticaRef(ctx)
		if err != nil {
			return err
		}
		var inherited types.Dict
		if inhPAttrs != nil {
			inherited = inhPAttrs.Resources
		}
		if err := ensurePageFont(ctx, pageDict, inherited, fontRef); err != nil {
			return err
		}
		if err := appendPageContent(ctx, pageDict, []byte("q\n"+b.String()+"Q\n")); err != nil {
			return err
		}
	}

	delete(rootDict, "AcroForm")
	return removeWidgets(ctx, pageDict)
}

// removeWidgets strips widget annotations from a page's Annots array.
func removeWidgets(ctx *pdfmodel.Context, pageDict types.Dict) error {
	obj, found := pageDict.Find("Annots")
	if !found {
		return nil
	}
	annots, err := ctx.DereferenceArray(obj)
	if err != nil {
		return err
	}
	kept := make(types.Array, 0, len(annots))
	for _, a := range annots {
		d, err := ctx.DereferenceDict(a)
		if err != nil || d == nil {
			kept = append(kept, a)
			continue
		}
		if sub, found := d.Find("Subtype"); found {
			if name, ok := sub.(types.Name); ok && name == "Widget" {
				continue
			}
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		delete(pageDict, "Annots")
		return nil
	}
	pageDict["Annots"] = kept
	return nil
}

// normalizeSignature decodes the raster payload and rescales it to the
// exact signature box dimensions, preserving transparency.
func (m *Merger) normalizeSignature(signature []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(signature))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, int(m.box.Width), int(m.box.Height)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return buf.Bytes(), nil
}

// stampSignature composites the normalized signature image onto the first
// page via pdfcpu's image watermark, anchored bottom-left at the box origin.
func (m *Merger) stampSignature(doc, sig []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "docsign-sig-*.png")
	if err != nil {
		return nil, fmt.Errorf("stage signature image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sig); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("stage signature image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("stage signature image: %w", err)
	}

	// scale:1 abs renders the (already rescaled) image pixel-per-point.
	wm, err := pdfcpu.ParseImageWatermarkDetails(tmp.Name(), "scale:1 abs, pos:bl, rot:0, op:1", true, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("signature watermark: %w", err)
	}
	wm.Dx = m.box.X
	wm.Dy = m.box.Y

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(doc), &out, []string{"1"}, wm, conf); err != nil {
		return nil, fmt.Errorf("apply signature: %w", err)
	}
	return out.Bytes(), nil
}
